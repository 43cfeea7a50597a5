package provider

import (
	"time"

	"tidemark/internal/core/collections"
	"tidemark/internal/platform/config"
	"tidemark/internal/services/ingest/domain"
)

// Registry builds the adapter table from config. Adapters missing
// credentials are still registered; they fail at fetch time with the
// provider's own auth error rather than a confusing missing-route one
func Registry(cfg config.Conf) map[string]domain.SourceAdapter {
	client := NewClient(cfg.MayDuration("HTTP_TIMEOUT", 30*time.Second))

	alp := AlpacaAuth{
		KeyID:  cfg.MayString("ALPACA_KEY_ID", ""),
		Secret: cfg.MayString("ALPACA_SECRET", ""),
	}
	fmpKey := cfg.MayString("FMP_API_KEY", "")

	reg := map[string]domain.SourceAdapter{}
	add := func(a domain.SourceAdapter, entityType string) {
		reg[domain.AdapterKey(a.Name(), entityType)] = a
	}

	add(NewAlpacaBars(client, alp, cfg.MayBool("ALPACA_ADJUST_MINUTE", true)), collections.EntityBars)
	add(NewAlpacaNews(client, alp, cfg.MayBool("ALPACA_INCLUDE_CONTENT", true)), collections.EntityNews)

	add(NewFMPBars(client, fmpKey), collections.EntityBars)
	add(NewFMPNews(client, fmpKey), collections.EntityNews)
	add(NewFMPStatements(client, fmpKey, collections.EntityIncomeStatement), collections.EntityIncomeStatement)
	add(NewFMPStatements(client, fmpKey, collections.EntityBalanceSheet), collections.EntityBalanceSheet)

	add(NewReddit(client, cfg.MayCSV("REDDIT_SUBREDDITS", nil)...), collections.EntitySocial)

	if dir := cfg.MayString("CSV_DIR", ""); dir != "" {
		add(NewCSVFile(dir), collections.EntityBars)
	}

	return reg
}
