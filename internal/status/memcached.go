package status

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/departure-collector/internal/models"
)

const keyPrefix = "station-status:"

// MemcachedStore implements Store using memcached so several collector replicas
// and their status endpoints can share results.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use the client defaults when zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a station name to a memcached key. Memcached keys may not contain
// spaces or control characters and are limited to 250 bytes.
func key(station string) string {
	k := keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, station)
	if len(k) > 250 {
		k = k[:250]
	}
	return k
}

// Get implements Store.Get. A cache miss is (zero, false, nil).
func (s *MemcachedStore) Get(ctx context.Context, station string) (models.StationStatus, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.StationStatus{}, false, err
	}
	item, err := s.client.Get(key(station))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.StationStatus{}, false, nil
		}
		return models.StationStatus{}, false, err
	}
	var st models.StationStatus
	if err := json.Unmarshal(item.Value, &st); err != nil {
		return models.StationStatus{}, false, err
	}
	return st, true, nil
}

// Set implements Store.Set.
func (s *MemcachedStore) Set(ctx context.Context, status models.StationStatus, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        key(status.Station),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// List implements Store.List with a single multi-get.
func (s *MemcachedStore) List(ctx context.Context, stations []string) ([]models.StationStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := make([]string, len(stations))
	for i, name := range stations {
		keys[i] = key(name)
	}
	items, err := s.client.GetMulti(keys)
	if err != nil {
		return nil, err
	}
	out := make([]models.StationStatus, 0, len(items))
	for _, k := range keys {
		item, ok := items[k]
		if !ok {
			continue
		}
		var st models.StationStatus
		if err := json.Unmarshal(item.Value, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// expirationSeconds converts a TTL to memcached's relative expiration, which
// is only honoured up to 30 days.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int32(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return sec
}

// Ping checks that memcached is reachable. Used by the health check.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes idle connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
