package store

import "time"

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG    PGConfig
	Mongo MongoConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // default 20
	PingTimeout    time.Duration // default 3s
}

// MongoConfig configures the document store and its GridFS blob bucket
type MongoConfig struct {
	Enabled bool
	URL     string
	DB      string

	// BlobBucket names the GridFS bucket for offloaded payloads; "" -> "fs"
	BlobBucket string

	// ConnectTimeout bounds the initial connect+ping; 0 -> 10s
	ConnectTimeout time.Duration
}
