package crawler

import (
	"context"
	"time"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher fans out post events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// PageFetcher retrieves board pages through an anti-bot aware session. A
// false return means the page could not be recovered after retries.
type PageFetcher interface {
	Get(ctx context.Context, url string) (FetchResponse, bool)
	Close()
}

// Analyzer turns post text into an Analysis. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, body string) Analysis
}

// InstrumentValidator confirms candidate codes against lookup services.
type InstrumentValidator interface {
	Validate(ctx context.Context, domestic, foreign []string) []Instrument
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
