// Package http provides http transport for the ingest module
package http

import (
	stdhttp "net/http"
	"slices"
	"time"

	"tidemark/internal/modkit/httpkit"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/net/http/bind"
	"tidemark/internal/services/ingest/domain"
)

// Register mounts the ingest endpoints on the given router
func Register(r httpkit.Router, runner domain.RunnerPort) {
	h := &handlers{runner: runner}
	httpkit.PostJSON[domain.IngestInput](r, "/quotes", h.quotes)
	httpkit.PostJSON[domain.IngestInput](r, "/news", h.news)
	httpkit.PostJSON[domain.IngestInput](r, "/findata", h.findata)
	httpkit.PostJSON[domain.IngestInput](r, "/social", h.social)
}

type handlers struct{ runner domain.RunnerPort }

func (h *handlers) quotes(r *stdhttp.Request, in domain.IngestInput) (any, error) {
	return h.run(r, in, "bars", "alpaca")
}

func (h *handlers) news(r *stdhttp.Request, in domain.IngestInput) (any, error) {
	return h.run(r, in, "news", "fmp")
}

func (h *handlers) social(r *stdhttp.Request, in domain.IngestInput) (any, error) {
	return h.run(r, in, "social", "reddit")
}

// findata fans out across the requested statement types; a ticker is
// accepted only when every statement run accepted it
func (h *handlers) findata(r *stdhttp.Request, in domain.IngestInput) (any, error) {
	req, err := buildRequest(in, "", "fmp")
	if err != nil {
		return nil, err
	}

	kinds := in.Statements
	if len(kinds) == 0 {
		kinds = []string{"income_statement", "balance_sheet"}
	}

	var out domain.IngestResponse
	failed := map[string]bool{}
	for _, kind := range kinds {
		req.EntityType = kind
		rep, err := h.runner.Run(r.Context(), req)
		if err != nil {
			return nil, err
		}
		for _, tk := range rep.Tickers.Failed {
			failed[tk] = true
		}
		out.Windows += rep.Windows
		out.Inserted += rep.Inserted
		out.Updated += rep.Updated
		out.Skipped += rep.Skipped
		out.FailedRecords += rep.Failed
	}

	out.Accepted, out.Failed = []string{}, []string{}
	for _, tk := range req.Tickers {
		if failed[tk] {
			out.Failed = append(out.Failed, tk)
		} else {
			out.Accepted = append(out.Accepted, tk)
		}
	}
	slices.Sort(out.Accepted)
	slices.Sort(out.Failed)
	return httpkit.Accepted(out), nil
}

func (h *handlers) run(r *stdhttp.Request, in domain.IngestInput, entityType, defaultSource string) (any, error) {
	req, err := buildRequest(in, entityType, defaultSource)
	if err != nil {
		return nil, err
	}
	rep, err := h.runner.Run(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return httpkit.Accepted(domain.ResponseFrom(rep)), nil
}

func buildRequest(in domain.IngestInput, entityType, defaultSource string) (domain.RunRequest, error) {
	if err := bind.Validate(in); err != nil {
		return domain.RunRequest{}, err
	}
	from, err := time.ParseInLocation("2006-01-02", in.FromDate, time.UTC)
	if err != nil {
		return domain.RunRequest{}, perr.Validationf("invalid from_date %q", in.FromDate)
	}
	to, err := time.ParseInLocation("2006-01-02", in.ToDate, time.UTC)
	if err != nil {
		return domain.RunRequest{}, perr.Validationf("invalid to_date %q", in.ToDate)
	}
	src := in.Source
	if src == "" {
		src = defaultSource
	}
	return domain.RunRequest{
		Tickers:    in.Tickers,
		From:       from,
		To:         to,
		Source:     src,
		EntityType: entityType,
		Collection: in.Collection,
	}, nil
}
