package stocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

// Entry is a cached lookup answer. Unconfirmed answers are cached too.
type Entry struct {
	Instrument crawler.Instrument `json:"instrument"`
	Confirmed  bool               `json:"confirmed"`
}

// Cache stores lookup answers keyed by market and code.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

func cacheKey(market crawler.Market, code string) string {
	return string(market) + ":" + code
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

// Set implements Cache. A non-positive ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.entries[key] = memoryEntry{entry: entry, expires: expires}
	return nil
}

// ValkeyCache shares lookup answers across processes through Valkey.
type ValkeyCache struct {
	client valkey.Client
	prefix string
}

// NewValkeyCache wraps an existing client. Keys are namespaced by prefix.
func NewValkeyCache(client valkey.Client, prefix string) *ValkeyCache {
	if prefix == "" {
		prefix = "stocks:"
	}
	return &ValkeyCache{client: client, prefix: prefix}
}

// DialValkey connects to addr and verifies the connection with PING.
func DialValkey(ctx context.Context, addr, password string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{addr},
		Password:         password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}

// Get implements Cache.
func (c *ValkeyCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("valkey get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Cache.
func (c *ValkeyCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = int64((24 * time.Hour) / time.Second)
	}
	cmd := c.client.B().Set().Key(c.prefix + key).Value(string(data)).ExSeconds(seconds).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}
