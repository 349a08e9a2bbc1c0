package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// WeatherFeed returns the current conditions for a weather lookup name.
type WeatherFeed interface {
	FetchWeather(ctx context.Context, query string) (models.WeatherObservation, error)
}

// WeatherClient reads current conditions: GET {base}?key=...&q={query}&aqi=no.
type WeatherClient struct {
	feed   *httpFeed
	apiKey string
}

// NewWeatherClient creates a weather feed client. apiKey is required.
func NewWeatherClient(apiKey string, opts Options) (*WeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: weather API key is required", ErrUnauthorized)
	}
	f, err := newHTTPFeed(FeedWeather, opts)
	if err != nil {
		return nil, err
	}
	return &WeatherClient{feed: f, apiKey: apiKey}, nil
}

type weatherResponse struct {
	Current struct {
		TempC     float64 `json:"temp_c"`
		Humidity  int     `json:"humidity"`
		WindKph   float64 `json:"wind_kph"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

// FetchWeather returns whatever the payload carried; absent fields stay zero.
func (c *WeatherClient) FetchWeather(ctx context.Context, query string) (models.WeatherObservation, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", query)
	q.Set("aqi", "no")

	var resp weatherResponse
	if err := c.feed.getJSON(ctx, query, "", q, &resp); err != nil {
		return models.WeatherObservation{}, err
	}
	return models.WeatherObservation{
		TemperatureC: resp.Current.TempC,
		Humidity:     resp.Current.Humidity,
		WindKph:      resp.Current.WindKph,
		Condition:    resp.Current.Condition.Text,
	}, nil
}
