package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
)

// Task states. Success and Failed are terminal; a terminal record is
// never rewritten.
const (
	StateQueued     = "queued"
	StateInstalling = "installing"
	StateRunning    = "running"
	StateSuccess    = "success"
	StateFailed     = "failed"
)

// Record is the full status of one task. Set always replaces the whole
// record; there are no partial updates.
type Record struct {
	Status   string `json:"status"`
	Logs     string `json:"logs,omitempty"`
	Output   string `json:"output,omitempty"`
	Errors   string `json:"errors,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Store is the task status store. Implementations must be safe for
// concurrent use by many workers and pollers.
type Store interface {
	// Set replaces the record for a key with the given retention.
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Get returns the record for a key, or found=false when the key is
	// unknown or has expired.
	Get(ctx context.Context, key string) (rec Record, found bool, err error)
}

// New selects the store backend once at startup: Redis when a URL is
// configured, the in-process map otherwise.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	if cfg.RedisEnabled() {
		logger.Info("using redis status store", zap.String("url", cfg.Redis.URL))
		return NewRedisStore(cfg.Redis.URL)
	}
	logger.Info("redis not configured, using in-process status store")
	return NewMemoryStore(), nil
}
