// Package module wires the ingest service into the API using modkit
package module

import (
	"net/http"

	"tidemark/internal/adapters/provider"
	"tidemark/internal/modkit"
	"tidemark/internal/modkit/httpkit"
	"tidemark/internal/modkit/repokit"
	"tidemark/internal/services/ingest/domain"
	"tidemark/internal/services/ingest/guardrails"
	ingesthttp "tidemark/internal/services/ingest/http"
	"tidemark/internal/services/ingest/repo"
	"tidemark/internal/services/ingest/service"
	offsvc "tidemark/internal/services/offload/service"
)

// Ports defines the ingest module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the ingest module
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws      []func(http.Handler) http.Handler
	ports    Ports
	register func(httpkit.Router)
}

// New constructs the ingest module, wiring providers, the upsert
// coordinator, and the checkpoint store from deps
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("ingest"), modkit.WithPrefix("/ingest")}, opts...)...)

	o := FromConfig(deps.Cfg)

	off := offsvc.New(deps.Blobs)
	coord := service.NewCoordinator(deps.Docs, off, o.MaxBatch)

	var lease domain.Lease
	if o.EnableLeases {
		lease = guardrails.MakeAdvisoryLease(deps)
	}

	svc := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		coord,
		provider.Registry(deps.Cfg.Prefix("PROVIDER_")),
		service.Config{
			Workers:       o.Workers,
			MaxRetries:    o.MaxRetries,
			RetryBase:     o.RetryBase,
			FetchTimeout:  o.FetchTimeout,
			DBTimeout:     o.DBTimeout,
			ProviderSlots: o.ProviderSlots,
			EnableLeases:  o.EnableLeases,
		},
		lease,
	)

	m := &Module{
		deps:   deps,
		name:   b.Name,
		prefix: b.Prefix,
		mws:    b.Mw,
		ports:  Ports{Runner: svc},
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		ingesthttp.Register(r, m.ports.Runner)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return m.prefix }
