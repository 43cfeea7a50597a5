package provider

import (
	"context"
	"net/url"
	"strings"
	"time"

	"tidemark/internal/core/identity"
	ptime "tidemark/internal/platform/time"
	"tidemark/internal/services/ingest/domain"
)

const redditBaseURL = "https://www.reddit.com"

// Reddit snapshots mention activity from subreddit listings. Listings
// are a moving view, so records carry snapshot identity: the same post
// observed on a different day is a new record, observed twice in one
// day it is a no-op or a feature update
type Reddit struct {
	client *Client
	base   string

	// Subreddits to scan; defaults to a small finance set
	Subreddits []string

	// Now is overridable for tests
	Now func() time.Time
}

// NewReddit constructs the subreddit snapshot adapter
func NewReddit(c *Client, subreddits ...string) *Reddit {
	if len(subreddits) == 0 {
		subreddits = []string{"stocks", "wallstreetbets"}
	}
	return &Reddit{client: c, base: redditBaseURL, Subreddits: subreddits, Now: time.Now}
}

// Name implements domain.SourceAdapter
func (r *Reddit) Name() string { return "reddit" }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Score       float64 `json:"score"`
	NumComments float64 `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Fetch implements domain.SourceAdapter. The window is ignored beyond
// post-creation filtering; a snapshot is whatever the listing shows now
func (r *Reddit) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	observed := r.Now().UTC()
	var items []domain.RawItem
	for _, sub := range r.Subreddits {
		vals := url.Values{}
		vals.Set("limit", "100")

		var listing redditListing
		u := query(r.base+"/r/"+url.PathEscape(sub)+"/new.json", vals)
		if err := r.client.GetJSON(ctx, u, nil, &listing); err != nil {
			return items, err
		}
		for _, child := range listing.Data.Children {
			p := child.Data
			if !mentionsTicker(p.Title+" "+p.Selftext, entityKey) {
				continue
			}
			items = append(items, domain.RawItem{Payload: map[string]any{
				"post_id":      p.ID,
				"title":        p.Title,
				"permalink":    r.base + p.Permalink,
				"subreddit":    p.Subreddit,
				"score":        p.Score,
				"num_comments": p.NumComments,
				"created":      time.Unix(int64(p.CreatedUTC), 0).UTC(),
				"observed":     observed,
			}})
		}
	}
	return items, nil
}

// Normalize implements domain.SourceAdapter
func (r *Reddit) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	observed := asTime(item.Payload, "observed").UTC()
	return domain.Record{
		EntityKey:  entityKey,
		EntityType: "social",
		Source:     "reddit",
		Timestamp:  observed,
		Identity: []identity.Field{
			identity.F("ticker", entityKey),
			identity.F("source", "reddit"),
			identity.F("post_id", asString(item.Payload, "post_id")),
			identity.F("observed_day", ptime.DayUTC(observed)),
		},
		Features: []identity.Field{
			identity.F("score", asFloat(item.Payload, "score")),
			identity.F("num_comments", asFloat(item.Payload, "num_comments")),
			identity.F("title", asString(item.Payload, "title")),
		},
		Document: map[string]any{
			"ticker":       entityKey,
			"timestamp":    observed,
			"post_id":      asString(item.Payload, "post_id"),
			"title":        asString(item.Payload, "title"),
			"permalink":    asString(item.Payload, "permalink"),
			"subreddit":    asString(item.Payload, "subreddit"),
			"score":        asFloat(item.Payload, "score"),
			"num_comments": asFloat(item.Payload, "num_comments"),
			"created":      asTime(item.Payload, "created"),
			"source":       "reddit",
		},
	}, nil
}

// mentionsTicker looks for the symbol as a standalone word or cashtag
func mentionsTicker(text, ticker string) bool {
	upper := strings.ToUpper(text)
	ticker = strings.ToUpper(ticker)
	for _, tok := range strings.FieldsFunc(upper, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && r != '$'
	}) {
		if tok == ticker || tok == "$"+ticker {
			return true
		}
	}
	return false
}

var _ domain.SourceAdapter = (*Reddit)(nil)
