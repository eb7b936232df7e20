package jwks

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// maxDocumentSize bounds the key set response body.
const maxDocumentSize = 1 << 20

// ErrNoUsableKeys is returned when a fetched set holds no ES256 keys.
var ErrNoUsableKeys = errors.New("key set contains no usable keys")

// Config configures a Cache.
type Config struct {
	URL string
	// RefreshInterval is how long a fetched set is trusted.
	RefreshInterval time.Duration
	// FetchTimeout bounds one HTTP fetch.
	FetchTimeout time.Duration
	// MinRefreshGap is the minimum spacing of refreshes triggered by
	// unknown key ids.
	MinRefreshGap time.Duration
	// HTTPClient defaults to a client with FetchTimeout.
	HTTPClient *http.Client
}

// Stats is a snapshot of cache state for the metrics endpoint.
type Stats struct {
	Keys      int       `json:"keys"`
	FetchedAt time.Time `json:"fetched_at"`
	Refreshes int64     `json:"refreshes"`
	Failures  int64     `json:"failures"`
}

// Cache resolves key ids against a remote key set.
// It implements credential.KeyResolver and is safe for concurrent use.
type Cache struct {
	cfg     Config
	client  *http.Client
	logger  *logging.Logger
	group   singleflight.Group
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.RWMutex
	keys      map[string]*ecdsa.PublicKey
	fetchedAt time.Time

	refreshes atomic.Int64
	failures  atomic.Int64
}

var _ credential.KeyResolver = (*Cache)(nil)

// New creates an empty Cache. The first ResolveKey (or Refresh) fetches.
func New(cfg Config, logger *logging.Logger) *Cache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	limit := rate.Inf
	if cfg.MinRefreshGap > 0 {
		limit = rate.Every(cfg.MinRefreshGap)
	}

	return &Cache{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("component", "jwks"),
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// ResolveKey implements credential.KeyResolver.
//
// A stale or empty cache is refreshed before lookup. An unknown kid on a
// fresh cache triggers one rate-limited refresh; if the kid is still
// absent, credential.ErrKeyNotFound is returned.
func (c *Cache) ResolveKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	keys, fresh := c.snapshot()

	if !fresh {
		var err error
		if keys, err = c.refresh(ctx, false); err != nil {
			return nil, err
		}
	} else if _, ok := lookup(keys, kid); !ok {
		if !c.limiter.Allow() {
			return nil, fmt.Errorf("%w: %q (refresh rate limited)", credential.ErrKeyNotFound, kid)
		}
		var err error
		if keys, err = c.refresh(ctx, true); err != nil {
			return nil, err
		}
	}

	key, ok := lookup(keys, kid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", credential.ErrKeyNotFound, kid)
	}
	return key, nil
}

// Refresh fetches the key set now, regardless of age. Used to warm the
// cache at startup.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, true)
	return err
}

// Stats returns a snapshot of the cache state.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Keys:      len(c.keys),
		FetchedAt: c.fetchedAt,
		Refreshes: c.refreshes.Load(),
		Failures:  c.failures.Load(),
	}
}

func (c *Cache) snapshot() (map[string]*ecdsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := c.keys != nil && c.now().Sub(c.fetchedAt) < c.cfg.RefreshInterval
	return c.keys, fresh
}

// lookup finds kid. A token without a kid matches only a single-key set.
func lookup(keys map[string]*ecdsa.PublicKey, kid string) (*ecdsa.PublicKey, bool) {
	if kid == "" && len(keys) == 1 {
		for _, k := range keys {
			return k, true
		}
	}
	k, ok := keys[kid]
	return k, ok
}

// refresh fetches once for all concurrent callers. Without force, a caller
// that lost the race to a refresh that already completed reuses its result.
func (c *Cache) refresh(ctx context.Context, force bool) (map[string]*ecdsa.PublicKey, error) {
	v, err, _ := c.group.Do("jwks", func() (any, error) {
		if keys, fresh := c.snapshot(); fresh && !force {
			return keys, nil
		}

		keys, err := c.fetch(ctx)
		if err != nil {
			c.failures.Add(1)
			c.logger.Warn("key set refresh failed", "url", c.cfg.URL, "error", err)
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.refreshes.Add(1)
		c.logger.Debug("key set refreshed", "keys", len(keys))
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*ecdsa.PublicKey), nil //nolint:forcetypeassert // only type stored
}

func (c *Cache) fetch(ctx context.Context) (map[string]*ecdsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching key set: unexpected status %d", resp.StatusCode)
	}

	var doc keySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}

	keys := make(map[string]*ecdsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		pub, err := jwk.publicKey()
		if err != nil {
			c.logger.Debug("skipping key", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, ErrNoUsableKeys
	}
	return keys, nil
}
