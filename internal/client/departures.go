package client

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// ScheduleFeed returns the scheduled departures of one station.
type ScheduleFeed interface {
	FetchSchedule(ctx context.Context, feedID string, asOf time.Time) ([]models.ScheduleEntry, error)
}

// RealtimeFeed returns the observed departures of one station.
type RealtimeFeed interface {
	FetchRealtime(ctx context.Context, feedID string, asOf time.Time) ([]models.RealtimeEntry, error)
}

// ScheduleClient reads the timetable board: GET {base}/{feedID}?direction=&date={asOf}.
type ScheduleClient struct {
	feed *httpFeed
}

// NewScheduleClient creates a schedule feed client.
func NewScheduleClient(opts Options) (*ScheduleClient, error) {
	f, err := newHTTPFeed(FeedSchedule, opts)
	if err != nil {
		return nil, err
	}
	return &ScheduleClient{feed: f}, nil
}

type scheduleItem struct {
	ID                flexString `json:"id"`
	ScheduledDateTime flexString `json:"scheduledDateTime"`
	Name              flexString `json:"name"`
	Train             flexString `json:"train"`
	Type              flexString `json:"type"`
	Operator          flexString `json:"operator"`
	Direction         flexString `json:"direction"`
	Platform          flexString `json:"platform"`
	Delay             flexFloat  `json:"delay"`
}

// FetchSchedule returns entries in provider order.
func (c *ScheduleClient) FetchSchedule(ctx context.Context, feedID string, asOf time.Time) ([]models.ScheduleEntry, error) {
	q := url.Values{}
	q.Set("direction", "")
	q.Set("date", asOf.UTC().Format(time.RFC3339))

	var items []scheduleItem
	if err := c.feed.getJSON(ctx, feedID, feedID, q, &items); err != nil {
		return nil, err
	}
	entries := make([]models.ScheduleEntry, 0, len(items))
	for _, it := range items {
		name := string(it.Name)
		if name == "" {
			name = string(it.Train)
		}
		entries = append(entries, models.ScheduleEntry{
			TripID:        string(it.ID),
			ScheduledTime: string(it.ScheduledDateTime),
			TrainName:     name,
			TrainType:     string(it.Type),
			Operator:      string(it.Operator),
			Direction:     string(it.Direction),
			Platform:      string(it.Platform),
			DelayHint:     it.Delay.value,
		})
	}
	return entries, nil
}

// RealtimeClient reads the observed board: GET {base}/{feedID}?date={asOf}.
type RealtimeClient struct {
	feed *httpFeed
}

// NewRealtimeClient creates a realtime feed client.
func NewRealtimeClient(opts Options) (*RealtimeClient, error) {
	f, err := newHTTPFeed(FeedRealtime, opts)
	if err != nil {
		return nil, err
	}
	return &RealtimeClient{feed: f}, nil
}

type realtimeItem struct {
	ID           flexString `json:"id"`
	RealDateTime flexString `json:"realDateTime"`
	Cancelled    flexBool   `json:"cancelled"`
}

// FetchRealtime returns entries in provider order.
func (c *RealtimeClient) FetchRealtime(ctx context.Context, feedID string, asOf time.Time) ([]models.RealtimeEntry, error) {
	q := url.Values{}
	q.Set("date", asOf.UTC().Format(time.RFC3339))

	var items []realtimeItem
	if err := c.feed.getJSON(ctx, feedID, feedID, q, &items); err != nil {
		return nil, err
	}
	entries := make([]models.RealtimeEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, models.RealtimeEntry{
			TripID:     string(it.ID),
			ActualTime: string(it.RealDateTime),
			Cancelled:  bool(it.Cancelled),
		})
	}
	return entries, nil
}

// flexFloat accepts a JSON number, a numeric string or null. Anything else,
// including NaN and infinities, decodes to "no value" rather than failing the
// whole board.
type flexFloat struct {
	value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.value = &v
	return nil
}

// flexString accepts any JSON scalar. Numbers and booleans keep their literal
// text; null, objects and arrays decode to "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err == nil {
			*s = flexString(v)
		}
	case 'n', '{', '[':
		// not a scalar
	default:
		*s = flexString(data)
	}
	return nil
}

// flexBool accepts a JSON boolean, a boolean string ("true", "1", ...) or a
// number, where any non-zero value is true. Anything else decodes to false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		raw = strings.TrimSpace(v)
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*b = flexBool(v)
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) {
		*b = flexBool(v != 0)
	}
	return nil
}
