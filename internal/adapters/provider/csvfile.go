package provider

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tidemark/internal/core/identity"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/services/ingest/domain"
)

// CSVFile replays bar history from local files, one file per ticker at
// {dir}/{TICKER}.csv with a header row of
// timestamp,open,high,low,close,volume and RFC3339 timestamps
type CSVFile struct {
	dir string
}

// NewCSVFile constructs the file replay adapter rooted at dir
func NewCSVFile(dir string) *CSVFile { return &CSVFile{dir: dir} }

// Name implements domain.SourceAdapter
func (c *CSVFile) Name() string { return "csvfile" }

// Fetch implements domain.SourceAdapter
func (c *CSVFile) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	path := filepath.Join(c.dir, entityKey+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perr.NotFoundf("no csv file for ticker %s", entityKey)
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "open csv file %s", path)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = 6

	// header
	if _, err := rd.Read(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "read csv header %s", path)
	}

	var items []domain.RawItem
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		row, err := rd.Read()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, perr.Wrapf(err, perr.ErrorCodeValidation, "read csv row %s:%d", path, line)
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return items, perr.Validationf("csv row %s:%d has unparseable timestamp %q", path, line, row[0])
		}
		ts = ts.UTC()
		if !w.Contains(ts) {
			continue
		}
		vals := make([]float64, 5)
		for i, col := range row[1:] {
			v, err := strconv.ParseFloat(col, 64)
			if err != nil {
				return items, perr.Validationf("csv row %s:%d has unparseable number %q", path, line, col)
			}
			vals[i] = v
		}
		items = append(items, domain.RawItem{Payload: map[string]any{
			"t": ts, "o": vals[0], "h": vals[1], "l": vals[2], "c": vals[3], "v": vals[4],
		}})
	}
}

// Normalize implements domain.SourceAdapter. Replayed bars share the
// live bar identity so a file replay can backfill or repair live data
func (c *CSVFile) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	ts := asTime(item.Payload, "t").UTC()
	return domain.Record{
		EntityKey:  entityKey,
		EntityType: "bars",
		Source:     "csvfile",
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
			"source":    "csvfile",
		},
	}, nil
}

var _ domain.SourceAdapter = (*CSVFile)(nil)
