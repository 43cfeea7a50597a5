package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"tidemark/internal/core/collections"
	"tidemark/internal/core/identity"
	perr "tidemark/internal/platform/errors"
	ptime "tidemark/internal/platform/time"
	"tidemark/internal/services/ingest/domain"
)

const (
	fmpBaseURL = "https://financialmodelingprep.com/api/v3"

	// fmp quotes wall-clock times in US Eastern without an offset
	fmpTimeLayout = "2006-01-02 15:04:05"
	fmpDateLayout = "2006-01-02"
)

// FMPBars pulls minute bars from the FMP historical chart endpoint
type FMPBars struct {
	client *Client
	apiKey string
	base   string
}

// NewFMPBars constructs the FMP minute bar adapter
func NewFMPBars(c *Client, apiKey string) *FMPBars {
	return &FMPBars{client: c, apiKey: apiKey, base: fmpBaseURL}
}

// Name implements domain.SourceAdapter
func (f *FMPBars) Name() string { return "fmp" }

type fmpBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Fetch implements domain.SourceAdapter. The endpoint is day granular,
// so bars outside an intraday window are dropped client side
func (f *FMPBars) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	vals := url.Values{}
	vals.Set("from", w.Start.UTC().Format(fmpDateLayout))
	vals.Set("to", w.End.UTC().Add(-time.Nanosecond).Format(fmpDateLayout))
	vals.Set("apikey", f.apiKey)

	var bars []fmpBar
	u := query(f.base+"/historical-chart/1min/"+url.PathEscape(entityKey), vals)
	if err := f.client.GetJSON(ctx, u, nil, &bars); err != nil {
		return nil, err
	}

	var items []domain.RawItem
	for _, b := range bars {
		wall, err := time.Parse(fmpTimeLayout, b.Date)
		if err != nil {
			continue
		}
		ts := ptime.EasternToUTC(wall)
		if !w.Contains(ts) {
			continue
		}
		items = append(items, domain.RawItem{Payload: map[string]any{
			"t": ts, "o": b.Open, "h": b.High, "l": b.Low, "c": b.Close, "v": b.Volume,
		}})
	}
	return items, nil
}

// Normalize implements domain.SourceAdapter
func (f *FMPBars) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	ts := asTime(item.Payload, "t").UTC()
	return domain.Record{
		EntityKey:  entityKey,
		EntityType: "bars",
		Source:     "fmp",
		Timestamp:  ts,
		Identity: []identity.Field{
			identity.F("ticker", entityKey),
			identity.F("timestamp", ts),
		},
		Features: []identity.Field{
			identity.F("open", asFloat(item.Payload, "o")),
			identity.F("high", asFloat(item.Payload, "h")),
			identity.F("low", asFloat(item.Payload, "l")),
			identity.F("close", asFloat(item.Payload, "c")),
			identity.F("volume", asFloat(item.Payload, "v")),
		},
		Document: map[string]any{
			"ticker":    entityKey,
			"timestamp": ts,
			"open":      asFloat(item.Payload, "o"),
			"high":      asFloat(item.Payload, "h"),
			"low":       asFloat(item.Payload, "l"),
			"close":     asFloat(item.Payload, "c"),
			"volume":    asFloat(item.Payload, "v"),
			"source":    "fmp",
		},
	}, nil
}

// FMPNews pulls articles from the FMP stock news endpoint, which
// paginates by page index instead of tokens
type FMPNews struct {
	client *Client
	apiKey string
	base   string

	// PageLimit bounds how many pages one window may consume; <=0 -> 50
	PageLimit int
}

// NewFMPNews constructs the FMP stock news adapter
func NewFMPNews(c *Client, apiKey string) *FMPNews {
	return &FMPNews{client: c, apiKey: apiKey, base: fmpBaseURL}
}

// Name implements domain.SourceAdapter
func (f *FMPNews) Name() string { return "fmp" }

type fmpArticle struct {
	Symbol        string `json:"symbol"`
	PublishedDate string `json:"publishedDate"`
	Title         string `json:"title"`
	Site          string `json:"site"`
	Text          string `json:"text"`
	URL           string `json:"url"`
}

// Fetch implements domain.SourceAdapter
func (f *FMPNews) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	limit := f.PageLimit
	if limit <= 0 {
		limit = 50
	}

	var items []domain.RawItem
	for page := 0; page < limit; page++ {
		vals := url.Values{}
		vals.Set("tickers", entityKey)
		vals.Set("from", w.Start.UTC().Format(fmpDateLayout))
		vals.Set("to", w.End.UTC().Add(-time.Nanosecond).Format(fmpDateLayout))
		vals.Set("page", strconv.Itoa(page))
		vals.Set("limit", "100")
		vals.Set("apikey", f.apiKey)

		var arts []fmpArticle
		if err := f.client.GetJSON(ctx, query(f.base+"/stock_news", vals), nil, &arts); err != nil {
			return items, err
		}
		if len(arts) == 0 {
			return items, nil
		}
		for _, a := range arts {
			raw, _ := json.Marshal(a)
			items = append(items, domain.RawItem{
				Payload: map[string]any{
					"publishedDate": a.PublishedDate,
					"title":         a.Title,
					"site":          a.Site,
					"text":          a.Text,
					"url":           a.URL,
				},
				Raw: raw,
			})
		}
	}
	return items, nil
}

// Normalize implements domain.SourceAdapter
func (f *FMPNews) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	wallStr := asString(item.Payload, "publishedDate")
	wall, err := time.Parse(fmpTimeLayout, wallStr)
	if err != nil {
		return domain.Record{}, perr.Validationf("fmp article has unparseable publishedDate %q", wallStr)
	}
	published := ptime.EasternToUTC(wall)

	return domain.Record{
		EntityKey:  entityKey,
		EntityType: "news",
		Source:     "fmp",
		Timestamp:  published,
		Identity: []identity.Field{
			identity.F("url", asString(item.Payload, "url")),
		},
		Features: []identity.Field{
			identity.F("published", published),
			identity.F("headline", asString(item.Payload, "title")),
			identity.F("text", asString(item.Payload, "text")),
		},
		Document: map[string]any{
			"ticker":    entityKey,
			"timestamp": published,
			"headline":  asString(item.Payload, "title"),
			"site":      asString(item.Payload, "site"),
			"url":       asString(item.Payload, "url"),
			"source":    "fmp",
		},
		Raw: item.Raw,
	}, nil
}

// FMPStatements pulls financial statements. One fetch fans out across
// both periodicities; records route to period specific collections
type FMPStatements struct {
	client *Client
	apiKey string
	base   string

	// Kind is collections.EntityIncomeStatement or EntityBalanceSheet
	Kind string
}

// NewFMPStatements constructs a statement adapter for one statement kind
func NewFMPStatements(c *Client, apiKey, kind string) *FMPStatements {
	return &FMPStatements{client: c, apiKey: apiKey, base: fmpBaseURL, Kind: kind}
}

// Name implements domain.SourceAdapter
func (f *FMPStatements) Name() string { return "fmp" }

func (f *FMPStatements) endpoint() string {
	if f.Kind == collections.EntityBalanceSheet {
		return "/balance-sheet-statement/"
	}
	return "/income-statement/"
}

// statementFeatures is the fixed metric list per statement kind; order
// is part of the fingerprint contract, append only
var statementFeatures = map[string][]string{
	collections.EntityIncomeStatement: {
		"revenue", "costOfRevenue", "grossProfit", "operatingIncome",
		"netIncome", "eps", "ebitda",
	},
	collections.EntityBalanceSheet: {
		"totalAssets", "totalLiabilities", "totalEquity",
		"cashAndCashEquivalents", "totalDebt", "totalInvestments",
	},
}

// Fetch implements domain.SourceAdapter. The provider endpoint is not
// windowed; filings outside the window are dropped client side
func (f *FMPStatements) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	var items []domain.RawItem
	for _, period := range collections.Periodicities() {
		vals := url.Values{}
		vals.Set("period", period)
		vals.Set("apikey", f.apiKey)

		var stmts []map[string]any
		u := query(f.base+f.endpoint()+url.PathEscape(entityKey), vals)
		if err := f.client.GetJSON(ctx, u, nil, &stmts); err != nil {
			return items, err
		}
		for _, st := range stmts {
			day, err := time.ParseInLocation(fmpDateLayout, asString(st, "date"), time.UTC)
			if err != nil || !w.Contains(day) {
				continue
			}
			items = append(items, domain.RawItem{Payload: st, Periodicity: period})
		}
	}
	return items, nil
}

// Normalize implements domain.SourceAdapter. Identity is the filing,
// never the ingestion time, so re-pulls of the same filing are no-ops
func (f *FMPStatements) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	day, err := time.ParseInLocation(fmpDateLayout, asString(item.Payload, "date"), time.UTC)
	if err != nil {
		return domain.Record{}, perr.Validationf("fmp statement has unparseable date %q", asString(item.Payload, "date"))
	}
	link := asString(item.Payload, "finalLink")
	if link == "" {
		link = asString(item.Payload, "link")
	}

	feats := make([]identity.Field, 0, len(statementFeatures[f.Kind]))
	doc := map[string]any{
		"ticker":    entityKey,
		"timestamp": day,
		"period":    item.Periodicity,
		"link":      link,
		"source":    "fmp",
	}
	for _, name := range statementFeatures[f.Kind] {
		v := asFloat(item.Payload, name)
		feats = append(feats, identity.F(name, v))
		doc[name] = v
	}

	return domain.Record{
		EntityKey:   entityKey,
		EntityType:  f.Kind,
		Periodicity: item.Periodicity,
		Source:      "fmp",
		Timestamp:   day,
		Identity: []identity.Field{
			identity.F("ticker", entityKey),
			identity.F("period", item.Periodicity),
			identity.F("fiscal_year", asString(item.Payload, "calendarYear")),
			identity.F("link", link),
		},
		Features: feats,
		Document: doc,
	}, nil
}

var (
	_ domain.SourceAdapter = (*FMPBars)(nil)
	_ domain.SourceAdapter = (*FMPNews)(nil)
	_ domain.SourceAdapter = (*FMPStatements)(nil)
)
