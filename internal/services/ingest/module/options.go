package module

import (
	"time"

	"tidemark/internal/platform/config"
)

// Options holds configuration options for the ingest service
type Options struct {
	Workers       int
	MaxRetries    int
	RetryBase     time.Duration
	FetchTimeout  time.Duration
	DBTimeout     time.Duration
	MaxBatch      int
	ProviderSlots int
	EnableLeases  bool
}

// FromConfig reads the ingest options from config with INGEST_ prefix
func FromConfig(cfg config.Conf) Options {
	in := cfg.Prefix("INGEST_")
	return Options{
		Workers:       in.MayInt("WORKERS", 4),
		MaxRetries:    in.MayInt("RETRIES", 3),
		RetryBase:     in.MayDuration("RETRY_BASE", 500*time.Millisecond),
		FetchTimeout:  in.MayDuration("FETCH_TIMEOUT", 2*time.Minute),
		DBTimeout:     in.MayDuration("DB_TIMEOUT", time.Minute),
		MaxBatch:      in.MayInt("MAX_BATCH", 500),
		ProviderSlots: in.MayInt("PROVIDER_SLOTS", 2),
		EnableLeases:  in.MayBool("LEASES", true),
	}
}
