package provider

import (
	"context"
	"net/url"
	"time"

	"tidemark/internal/core/identity"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/services/ingest/domain"
)

const (
	alpacaDataURL = "https://data.alpaca.markets"
	alpacaPageCap = 10000
)

// AlpacaAuth carries the key pair every Alpaca data request signs with
type AlpacaAuth struct {
	KeyID  string
	Secret string
}

func (a AlpacaAuth) headers() map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     a.KeyID,
		"APCA-API-SECRET-KEY": a.Secret,
	}
}

// AlpacaBars pulls minute bars from the Alpaca market data API
type AlpacaBars struct {
	client *Client
	auth   AlpacaAuth
	base   string

	// AdjustMinute shifts each bar label back one minute so the bar
	// carries the timestamp of its open rather than its close
	AdjustMinute bool
}

// NewAlpacaBars constructs the minute bar adapter
func NewAlpacaBars(c *Client, auth AlpacaAuth, adjustMinute bool) *AlpacaBars {
	return &AlpacaBars{client: c, auth: auth, base: alpacaDataURL, AdjustMinute: adjustMinute}
}

// Name implements domain.SourceAdapter
func (a *AlpacaBars) Name() string { return "alpaca" }

type alpacaBar struct {
	T  time.Time `json:"t"`
	O  float64   `json:"o"`
	H  float64   `json:"h"`
	L  float64   `json:"l"`
	C  float64   `json:"c"`
	V  float64   `json:"v"`
	N  int64     `json:"n"`
	VW float64   `json:"vw"`
}

type alpacaBarsPage struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
}

// Fetch implements domain.SourceAdapter, following page tokens until
// the provider reports the window exhausted
func (a *AlpacaBars) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	var items []domain.RawItem
	pageToken := ""
	for {
		vals := url.Values{}
		vals.Set("timeframe", "1Min")
		vals.Set("start", w.Start.UTC().Format(time.RFC3339))
		vals.Set("end", w.End.UTC().Format(time.RFC3339))
		vals.Set("limit", "10000")
		if pageToken != "" {
			vals.Set("page_token", pageToken)
		}

		var page alpacaBarsPage
		u := query(a.base+"/v2/stocks/"+url.PathEscape(entityKey)+"/bars", vals)
		if err := a.client.GetJSON(ctx, u, a.auth.headers(), &page); err != nil {
			return items, err
		}
		for _, b := range page.Bars {
			items = append(items, domain.RawItem{Payload: map[string]any{
				"t": b.T, "o": b.O, "h": b.H, "l": b.L, "c": b.C,
				"v": b.V, "n": b.N, "vw": b.VW,
			}})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			return items, nil
		}
		pageToken = *page.NextPageToken
		if len(items) > alpacaPageCap*10 {
			return items, perr.Internalf("alpaca pagination runaway for %s", entityKey)
		}
	}
}

// Normalize implements domain.SourceAdapter
func (a *AlpacaBars) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	ts := asTime(item.Payload, "t").UTC()
	if a.AdjustMinute {
		ts = ts.Add(-time.Minute)
	}
	rec := domain.Record{
		EntityKey:  entityKey,
		EntityType: "bars",
		Source:     "alpaca",
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
			"ticker":      entityKey,
			"timestamp":   ts,
			"open":        asFloat(item.Payload, "o"),
			"high":        asFloat(item.Payload, "h"),
			"low":         asFloat(item.Payload, "l"),
			"close":       asFloat(item.Payload, "c"),
			"volume":      asFloat(item.Payload, "v"),
			"trade_count": item.Payload["n"],
			"vwap":        asFloat(item.Payload, "vw"),
			"source":      "alpaca",
		},
	}
	return rec, nil
}

// AlpacaNews pulls articles from the Alpaca news API
type AlpacaNews struct {
	client *Client
	auth   AlpacaAuth
	base   string

	// IncludeContent asks the provider for full article bodies, which
	// are offloaded to the blob store
	IncludeContent bool
}

// NewAlpacaNews constructs the news adapter
func NewAlpacaNews(c *Client, auth AlpacaAuth, includeContent bool) *AlpacaNews {
	return &AlpacaNews{client: c, auth: auth, base: alpacaDataURL, IncludeContent: includeContent}
}

// Name implements domain.SourceAdapter
func (a *AlpacaNews) Name() string { return "alpaca" }

type alpacaArticle struct {
	Headline  string    `json:"headline"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
}

type alpacaNewsPage struct {
	News          []alpacaArticle `json:"news"`
	NextPageToken *string         `json:"next_page_token"`
}

// Fetch implements domain.SourceAdapter
func (a *AlpacaNews) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	var items []domain.RawItem
	pageToken := ""
	for {
		vals := url.Values{}
		vals.Set("symbols", entityKey)
		vals.Set("start", w.Start.UTC().Format(time.RFC3339))
		vals.Set("end", w.End.UTC().Format(time.RFC3339))
		vals.Set("limit", "50")
		if a.IncludeContent {
			vals.Set("include_content", "true")
		}
		if pageToken != "" {
			vals.Set("page_token", pageToken)
		}

		var page alpacaNewsPage
		if err := a.client.GetJSON(ctx, query(a.base+"/v1beta1/news", vals), a.auth.headers(), &page); err != nil {
			return items, err
		}
		for _, n := range page.News {
			items = append(items, domain.RawItem{
				Payload: map[string]any{
					"headline":   n.Headline,
					"author":     n.Author,
					"created_at": n.CreatedAt,
					"updated_at": n.UpdatedAt,
					"summary":    n.Summary,
					"url":        n.URL,
				},
				Raw: []byte(n.Content),
			})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			return items, nil
		}
		pageToken = *page.NextPageToken
	}
}

// Normalize implements domain.SourceAdapter. Articles key on their url;
// publish time and headline are features so edits update in place
func (a *AlpacaNews) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	published := asTime(item.Payload, "created_at").UTC()
	rec := domain.Record{
		EntityKey:  entityKey,
		EntityType: "news",
		Source:     "alpaca",
		Timestamp:  published,
		Identity: []identity.Field{
			identity.F("url", asString(item.Payload, "url")),
		},
		Features: []identity.Field{
			identity.F("published", published),
			identity.F("headline", asString(item.Payload, "headline")),
			identity.F("summary", asString(item.Payload, "summary")),
			identity.F("updated", asTime(item.Payload, "updated_at").UTC()),
		},
		Document: map[string]any{
			"ticker":    entityKey,
			"timestamp": published,
			"headline":  asString(item.Payload, "headline"),
			"author":    asString(item.Payload, "author"),
			"summary":   asString(item.Payload, "summary"),
			"url":       asString(item.Payload, "url"),
			"source":    "alpaca",
		},
		Raw: item.Raw,
	}
	return rec, nil
}

var (
	_ domain.SourceAdapter = (*AlpacaBars)(nil)
	_ domain.SourceAdapter = (*AlpacaNews)(nil)
)
