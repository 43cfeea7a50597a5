package main

import (
	"context"

	"github.com/joho/godotenv"

	"tidemark/internal/platform/config"
	"tidemark/internal/platform/logger"
	phttp "tidemark/internal/platform/net/http"
	"tidemark/internal/platform/store"

	"tidemark/internal/services/api"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	root := config.New()
	apiCfg := root.Prefix("CORE_API_")
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	mgCfg := root.Prefix("SERVICE_MONGO_")

	l := logger.Get()

	st, err := store.Open(
		context.Background(),
		store.Config{
			AppName: "tidemark-api",
			PG: store.PGConfig{
				Enabled:     true,
				URL:         pgCfg.MustString("DBURL"),
				MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
				LogSQL:      pgCfg.MayBool("LOG_SQL", true),
			},
			Mongo: store.MongoConfig{
				Enabled:    true,
				URL:        mgCfg.MustString("DBURL"),
				DB:         mgCfg.MayString("DB", "tidemark"),
				BlobBucket: mgCfg.MayString("BLOB_BUCKET", "raw_content"),
			},
		},
		store.WithLogger(*logger.Get()),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	// http server (reads CORE_API_PORT / CORE_API_ADDR)
	srv := phttp.NewServer(apiCfg)

	api.Mount(
		srv.Router(),
		api.Options{
			Config:         root,
			Store:          st,
			Logger:         l,
			APIKey:         apiCfg.MustString("KEY"),
			EnableProfiler: apiCfg.MayBool("PROFILER", false),
		},
	)

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
