package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tidemark/internal/modkit"
	"tidemark/internal/modkit/module"
	"tidemark/internal/modkit/repokit"
	"tidemark/internal/platform/config"
	"tidemark/internal/platform/logger"
	"tidemark/internal/platform/store"

	ingestdom "tidemark/internal/services/ingest/domain"
	ingestmod "tidemark/internal/services/ingest/module"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	mgCfg := root.Prefix("SERVICE_MONGO_")

	l := logger.Get()

	st, err := store.Open(context.Background(), store.Config{
		AppName: "tidemark-backfill",
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
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	var (
		fTickers = flag.String("tickers", "", "comma separated ticker symbols")
		fFrom    = flag.String("from", "", "UTC start date YYYY-MM-DD")
		fTo      = flag.String("to", "", "UTC end date YYYY-MM-DD exclusive")
		fSource  = flag.String("source", "alpaca", "source adapter: alpaca | fmp | reddit | csvfile")
		fEntity  = flag.String("entity", "bars", "entity type: bars | news | income_statement | balance_sheet | social")
		fResume  = flag.Bool("resume", false, "ignore range flags and drain pending or errored windows")
	)
	flag.Parse()

	var from, to time.Time
	if !*fResume {
		if *fTickers == "" || *fFrom == "" || *fTo == "" {
			l.Panic().Msg("must provide -tickers, -from and -to (unless --resume)")
		}
		from, err = time.ParseInLocation("2006-01-02", *fFrom, time.UTC)
		if err != nil {
			l.Panic().Err(err).Msg("bad -from")
		}
		to, err = time.ParseInLocation("2006-01-02", *fTo, time.UTC)
		if err != nil {
			l.Panic().Err(err).Msg("bad -to")
		}
		if !to.After(from) {
			l.Panic().Str("from", from.String()).Str("to", to.String()).Msg("-to must be after -from")
		}
	}

	deps := modkit.Deps{
		Cfg:   root,
		PG:    repokit.TxRunner(st.PG),
		Docs:  st.Docs,
		Blobs: st.Blobs,
		Log:   *l,
	}

	im := ingestmod.New(deps)
	module.Register(im.Name(), im.Ports())
	runner := im.Ports().(ingestmod.Ports).Runner

	ctx := context.Background()
	if *fResume {
		if err := runner.RunResume(ctx); err != nil {
			l.Fatal().Err(err).Msg("ingest resume failed")
		}
		return
	}

	rep, err := runner.Run(ctx, ingestdom.RunRequest{
		Tickers:    splitTickers(*fTickers),
		From:       from,
		To:         to,
		Source:     *fSource,
		EntityType: *fEntity,
	})
	if err != nil {
		l.Fatal().Err(err).Msg("ingest run failed")
	}
	l.Info().
		Int("windows", rep.Windows).
		Int("inserted", rep.Inserted).
		Int("updated", rep.Updated).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Strs("failed_tickers", rep.Tickers.Failed).
		Msg("ingest run complete")
}

func splitTickers(csv string) []string {
	var out []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(strings.ToUpper(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
