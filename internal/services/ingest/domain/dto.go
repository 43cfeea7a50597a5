package domain

// IngestInput is the request body shared by the ingest endpoints.
// Dates are inclusive calendar days; To names the first day that is
// NOT ingested.
type IngestInput struct {
	Tickers  []string `json:"tickers" validate:"required,min=1,dive,ticker"`
	FromDate string   `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate   string   `json:"to_date" validate:"required,datetime=2006-01-02"`

	// Source overrides the endpoint's default provider
	Source string `json:"source" validate:"omitempty,alphanum"`

	// Collection overrides routing for every record in the run
	Collection string `json:"collection_name" validate:"omitempty,max=120"`

	// Statements picks which financial statements a findata run pulls;
	// empty means both
	Statements []string `json:"statements" validate:"omitempty,dive,oneof=income_statement balance_sheet"`
}

// IngestResponse is the per-run outcome returned with 202
type IngestResponse struct {
	Accepted []string `json:"accepted"`
	Failed   []string `json:"failed"`

	Windows       int `json:"windows"`
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	Skipped       int `json:"skipped"`
	FailedRecords int `json:"failed_records"`
}

// ResponseFrom flattens a run report into the wire shape
func ResponseFrom(rep RunReport) IngestResponse {
	out := IngestResponse{
		Accepted:      rep.Tickers.Accepted,
		Failed:        rep.Tickers.Failed,
		Windows:       rep.Windows,
		Inserted:      rep.Inserted,
		Updated:       rep.Updated,
		Skipped:       rep.Skipped,
		FailedRecords: rep.Failed,
	}
	if out.Accepted == nil {
		out.Accepted = []string{}
	}
	if out.Failed == nil {
		out.Failed = []string{}
	}
	return out
}
