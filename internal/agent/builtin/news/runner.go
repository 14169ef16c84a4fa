package news

import (
	"context"
	"errors"
	logx "finwatch/pkg/logx"
	"fmt"
	"strconv"
	"time"

	"finwatch/internal/storage"
	"finwatch/pkg/brave"
	"finwatch/pkg/llm"
	"golang.org/x/time/rate"
)

const (
	systemPrompt   = "You are a helpful assistant for generating finance-related search queries."
	queryPromptFmt = "Generate a finance-related search query for the latest news (%d/%d)"
	fallbackQuery  = "latest finance news"
	maxQueryTokens = 50
)

// runFetch executes one fetch run: generate queries, search, store.
func (a *Agent) runFetch(ctx context.Context, source string) error {
	cfg := a.getConfig()
	gen, search := a.getClients()
	if search == nil {
		return errors.New("search client not configured")
	}

	// Bind this run to the agent lifecycle so it ends on agent stop.
	callerCtx := ctx
	base := callerCtx
	if actx := a.Context(); actx != nil {
		base = actx
	}
	runCtx, cancel := context.WithCancel(base)
	stopCallerCancel := context.AfterFunc(callerCtx, cancel)
	defer stopCallerCancel()
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(cfg.pace), 1)

	start := time.Now()
	var stored, dups, failed, failedQueries int

	for i := 0; i < cfg.Queries; i++ {
		query := a.generateQuery(runCtx, gen, cfg, i)

		if err := limiter.Wait(runCtx); err != nil {
			return err
		}

		results, err := a.runSearch(runCtx, search, cfg, query)
		if err != nil {
			failedQueries++
			a.Log.Warn("search failed", logx.String("query", query), logx.Err(err))
			continue
		}

		s, d, f := a.storeResults(runCtx, query, results)
		stored += s
		dups += d
		failed += f
		a.Log.Info("search stored",
			logx.String("query", query),
			logx.Int("results", len(results)),
			logx.Int("stored", s),
			logx.Int("duplicates", d))
	}

	a.PublishEvent("news.stored", map[string]any{
		"queries":        cfg.Queries,
		"stored":         stored,
		"duplicates":     dups,
		"failed":         failed,
		"failed_queries": failedQueries,
		"source":         source,
		"took_ms":        time.Since(start).Milliseconds(),
	})
	_ = a.AppendAudit(runCtx, storage.AuditEntry{
		At:     time.Now(),
		Agent:  a.Name(),
		Action: "fetch_news",
		OK:     stored,
		Fail:   failed + failedQueries,
		TookMS: time.Since(start).Milliseconds(),
		MetaJSON: `{"duplicates":` + strconv.Itoa(dups) +
			`,"failed_queries":` + strconv.Itoa(failedQueries) + `}`,
	})

	if failedQueries == cfg.Queries {
		return fmt.Errorf("all %d searches failed", cfg.Queries)
	}
	return nil
}

// generateQuery asks the LLM for a search query, falling back to a static
// query on any failure so one flaky upstream never kills the run.
func (a *Agent) generateQuery(ctx context.Context, gen *llm.Client, cfg Config, i int) string {
	if gen == nil {
		return fallbackQuery
	}
	opCtx, cancel := context.WithTimeout(ctx, cfg.operationTimeout)
	defer cancel()

	out, err := gen.Complete(opCtx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(queryPromptFmt, i+1, cfg.Queries)},
	}, maxQueryTokens)
	if err != nil {
		a.Log.Warn("query generation failed; using fallback", logx.Err(err))
		return fallbackQuery
	}
	if out == "" {
		return fallbackQuery
	}
	return out
}

func (a *Agent) runSearch(ctx context.Context, search *brave.Client, cfg Config, query string) ([]brave.Result, error) {
	opCtx, cancel := context.WithTimeout(ctx, cfg.operationTimeout)
	defer cancel()
	return search.Search(opCtx, query, brave.SearchOptions{
		Count:     cfg.ResultsPerQuery,
		Freshness: cfg.Freshness,
		Lang:      cfg.Lang,
	})
}

// storeResults persists search hits. Duplicate URLs are counted, not errors.
func (a *Agent) storeResults(ctx context.Context, query string, results []brave.Result) (stored, dups, failed int) {
	st := a.Deps.Store
	if st == nil {
		a.Log.Debug("storage disabled; results not kept", logx.Int("results", len(results)))
		return 0, 0, 0
	}
	now := time.Now()
	for _, r := range results {
		item := storage.NewsItem{
			At:          now,
			Query:       query,
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			Source:      r.Source,
			PublishedAt: r.Published,
		}
		err := st.InsertNews(ctx, item)
		switch {
		case err == nil:
			stored++
			a.Log.Debug("stored news item", logx.String("item", FormatItem(item)))
		case errors.Is(err, storage.ErrDuplicate):
			dups++
		default:
			failed++
			a.Log.Warn("news item not stored", logx.String("url", r.URL), logx.Err(err))
		}
	}
	return stored, dups, failed
}
