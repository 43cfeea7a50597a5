// Package api provides the HTTP API for the application
package api

import (
	"tidemark/internal/platform/config"
	"tidemark/internal/platform/logger"
	phttp "tidemark/internal/platform/net/http"
	"tidemark/internal/platform/store"

	"tidemark/internal/modkit"
	"tidemark/internal/modkit/httpkit"
	"tidemark/internal/modkit/module"
	"tidemark/internal/modkit/repokit"

	metamod "tidemark/internal/services/api/meta/module"
	ingestmod "tidemark/internal/services/ingest/module"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	APIKey         string
	EnableProfiler bool
}

// Mount mounts the API service onto the given router
func Mount(r phttp.Router, opt Options) {
	deps := modkit.Deps{
		Cfg:   opt.Config,
		PG:    repokit.TxRunner(opt.Store.PG),
		Docs:  opt.Store.Docs,
		Blobs: opt.Store.Blobs,
	}
	if opt.Logger != nil {
		deps.Log = *opt.Logger
	}

	meta := metamod.New(deps)
	ingest := ingestmod.New(deps)

	// versioned API with a common middleware stack; ingestion endpoints
	// sit behind the shared api key, meta stays open for probes
	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		module.Register(meta.Name(), meta.Ports())
		meta.MountRoutes(api)

		httpkit.Protected(api, opt.APIKey, func(pr httpkit.Router) {
			module.Register(ingest.Name(), ingest.Ports())
			ingest.MountRoutes(pr)
		})
	})
}
