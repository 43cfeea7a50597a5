// Package collections maps entity types to their Mongo collections and
// owns the index layout each collection is created with.
package collections

import (
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/store"
)

// Entity types the router knows how to place.
const (
	EntityBars            = "bars"
	EntityNews            = "news"
	EntityIncomeStatement = "income_statement"
	EntityBalanceSheet    = "balance_sheet"
	EntitySocial          = "social"
)

// Statement periodicities. Statements fan out to one collection per period.
const (
	PeriodAnnual  = "annual"
	PeriodQuarter = "quarter"
)

const (
	barsColl   = "rawPriceColl"
	newsColl   = "rawNewsColl"
	socialColl = "rawSocialPosts"
)

// Route returns the collection name for an entity type. Statement entities
// require a periodicity; everything else ignores it. Unknown entity types
// and unknown periodicities fail closed.
func Route(entityType, periodicity string) (string, error) {
	switch entityType {
	case EntityBars:
		return barsColl, nil
	case EntityNews:
		return newsColl, nil
	case EntitySocial:
		return socialColl, nil
	case EntityIncomeStatement:
		return statementColl(periodicity, "IncomeStmt")
	case EntityBalanceSheet:
		return statementColl(periodicity, "BalSheet")
	default:
		return "", perr.InvalidArgf("unroutable entity type %q", entityType)
	}
}

func statementColl(periodicity, suffix string) (string, error) {
	switch periodicity {
	case PeriodAnnual, PeriodQuarter:
		return "fs_" + periodicity + suffix, nil
	default:
		return "", perr.InvalidArgf("unroutable statement periodicity %q", periodicity)
	}
}

// Periodicities lists the statement fan-out targets in a stable order.
func Periodicities() []string { return []string{PeriodAnnual, PeriodQuarter} }

// IsStatement reports whether an entity type fans out by periodicity.
func IsStatement(entityType string) bool {
	return entityType == EntityIncomeStatement || entityType == EntityBalanceSheet
}

// Spec is the index layout every ingest collection is ensured with.
// The (unique_id, ticker) unique index is what makes re-ingest a no-op;
// (ticker, timestamp desc) serves the read path.
func Spec() store.CollectionSpec {
	return store.CollectionSpec{
		Indexes: []store.IndexSpec{
			{
				Keys: []store.IndexKey{
					{Field: "unique_id", Order: 1},
					{Field: "ticker", Order: 1},
				},
				Unique: true,
			},
			{
				Keys: []store.IndexKey{
					{Field: "ticker", Order: 1},
					{Field: "timestamp", Order: -1},
				},
			},
		},
	}
}
