// Package mongo provides a document database client over the official driver
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config configures the mongo client
type Config struct {
	URL            string
	DB             string
	AppName        string
	ConnectTimeout time.Duration
}

// Mongo holds a connected client plus the database handle everything runs against
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Open connects and verifies the server is reachable before returning
func Open(ctx context.Context, cfg Config) (*Mongo, error) {
	to := cfg.ConnectTimeout
	if to <= 0 {
		to = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetConnectTimeout(to)
	if cfg.AppName != "" {
		opts = opts.SetAppName(cfg.AppName)
	}

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, to)
	defer cancel()
	if err := cli.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	return &Mongo{Client: cli, DB: cli.Database(cfg.DB)}, nil
}

// Ping checks connectivity against the primary
func (m *Mongo) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}
