// Package http provides meta endpoints
package http

import (
	stdctx "context"
	"net/http"
	"time"

	"tidemark/internal/core/version"
	"tidemark/internal/modkit/httpkit"
)

// Pinger is satisfied by adapters that expose Ping
type Pinger interface {
	Ping(stdctx.Context) error
}

// Deps are the handler dependencies
type Deps struct {
	ServiceName string
	StartedAt   time.Time
	PG          any
	Docs        any
	Blobs       any
}

type handlers struct {
	deps Deps
}

// Register mounts the meta routes
func Register(r httpkit.Router, d Deps) {
	h := &handlers{deps: d}

	httpkit.Get(r, "/health", h.health)
	httpkit.Get(r, "/ready", h.ready)
	httpkit.Get(r, "/version", h.version)
	httpkit.Get(r, "/service", h.service)
}

// HealthResponse is the health payload
type HealthResponse struct {
	OK      bool   `json:"ok"       example:"true"`
	Service string `json:"service"  example:"tidemark-api"`
	Started string `json:"started"  example:"2025-09-03T13:00:00Z"`
	Now     string `json:"now"      example:"2025-09-03T13:05:00Z"`
}

// ReadyCheck describes a single dependency check
type ReadyCheck struct {
	Name   string `json:"name"   example:"pg"`
	Status string `json:"status" example:"ok"` // ok fail skipped unknown
	Error  string `json:"error,omitempty" example:"dial tcp 127.0.0.1:5432 connect: connection refused"`
}

// ReadyResponse summarizes readiness
type ReadyResponse struct {
	Status string       `json:"status" example:"ok"` // ok degraded fail
	Checks []ReadyCheck `json:"checks"`
	Now    string       `json:"now"    example:"2025-09-03T13:05:00Z"`
}

// ServiceResponse describes service info
type ServiceResponse struct {
	Name    string `json:"name"    example:"tidemark-api"`
	Started string `json:"started" example:"2025-09-03T13:00:00Z"`
	Uptime  int64  `json:"uptime"  example:"300"`
}

func (h *handlers) health(_ *http.Request) (any, error) {
	return HealthResponse{
		OK:      true,
		Service: h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Now:     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *handlers) ready(_ *http.Request) (any, error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 2*time.Second)
	defer cancel()

	check := func(name string, c any) ReadyCheck {
		if c == nil {
			return ReadyCheck{Name: name, Status: "skipped"}
		}
		if p, ok := c.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return ReadyCheck{Name: name, Status: "fail", Error: err.Error()}
			}
			return ReadyCheck{Name: name, Status: "ok"}
		}
		return ReadyCheck{Name: name, Status: "unknown"}
	}

	pg := check("pg", h.deps.PG)
	docs := check("docs", h.deps.Docs)
	blobs := check("blobs", h.deps.Blobs)

	overall := "ok"
	for _, c := range []ReadyCheck{pg, docs, blobs} {
		if c.Status == "fail" {
			overall = "fail"
			break
		}
		if c.Status != "ok" && c.Status != "skipped" && c.Status != "unknown" {
			overall = "degraded"
		}
	}

	return ReadyResponse{
		Status: overall,
		Checks: []ReadyCheck{pg, docs, blobs},
		Now:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *handlers) version(_ *http.Request) (any, error) {
	return version.Info(), nil
}

func (h *handlers) service(_ *http.Request) (any, error) {
	uptime := time.Since(h.deps.StartedAt)
	return ServiceResponse{
		Name:    h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Uptime:  int64(uptime / time.Second),
	}, nil
}
