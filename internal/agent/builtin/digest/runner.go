package digest

import (
	"context"
	"errors"
	"fmt"
	logx "finwatch/pkg/logx"
	"time"

	"finwatch/internal/storage"
)

// weeklyTaskName is the short name of the rollup task ("digest:weekly" once
// namespaced). The daily task name is configurable, this one is not.
const weeklyTaskName = "weekly"

// report is the dataset one digest run works from.
type report struct {
	pair     string
	price    storage.PriceSample
	hasPrice bool
	ref      storage.PriceSample
	hasRef   bool
	movePct  float64
	news     []storage.NewsItem
	since    time.Time
}

func (r report) empty() bool { return !r.hasPrice && len(r.news) == 0 }

// runDigest assembles and sends the daily digest.
func (a *Agent) runDigest(ctx context.Context, source string) error {
	cfg := a.getConfig()

	// Bind this run to the agent lifecycle so it ends on agent stop.
	//
	// - Base context: agent runtime context (canceled on disable/stop)
	// - Also cancel when the *caller* ctx ends (task timeout)
	// - And enforce an operation timeout
	callerCtx := ctx
	base := callerCtx
	if actx := a.Context(); actx != nil {
		base = actx
	}
	opCtx, cancel := context.WithTimeout(base, cfg.operationTimeout)
	stopCallerCancel := context.AfterFunc(callerCtx, cancel)
	defer stopCallerCancel()
	defer cancel()

	now := time.Now()
	st := a.Deps.Store

	// News resumes where the previous digest left off, so a daemon that was
	// down for a few days catches up instead of dropping that window.
	since := now.Add(-24 * time.Hour)
	if st != nil {
		lastAt, ok, err := st.LastDigestAt(opCtx)
		if err != nil {
			a.Log.Warn("last digest lookup failed", logx.Err(err))
		} else if ok {
			if sameDay(lastAt, now) {
				a.Log.Debug("digest already sent today", logx.Time("last", lastAt))
				return nil
			}
			since = lastAt
		}
	}

	rep := a.collect(opCtx, cfg, now.Add(-24*time.Hour), since)
	if st != nil && cfg.SkipWhenEmpty && rep.empty() {
		a.Log.Debug("digest skipped, nothing new since last send", logx.Time("since", since))
		a.PublishEvent("digest.skipped", map[string]any{"kind": "daily", "since": since})
		return nil
	}

	subject := "finwatch digest - " + now.Format("2006-01-02")
	body := renderDigest(rep, st == nil, "24h")
	nb := a.Notify().Subject(subject)
	if cfg.Channel != "" {
		nb = nb.Channel(cfg.Channel)
	}
	if err := nb.Info(body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	if st != nil {
		key := "daily:" + now.Format("2006-01-02")
		if err := st.MarkDigest(opCtx, now, key); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				a.Log.Debug("digest already marked", logx.String("key", key))
			} else {
				a.Log.Warn("digest mark failed", logx.Err(err))
			}
		}
	}
	_ = a.AppendAudit(opCtx, storage.AuditEntry{
		At:     now,
		Agent:  a.Name(),
		Action: "digest",
		Target: cfg.Channel,
		OK:     1,
		TookMS: time.Since(now).Milliseconds(),
	})
	a.PublishEvent("digest.sent", map[string]any{
		"kind":      "daily",
		"channel":   cfg.Channel,
		"news":      len(rep.news),
		"has_price": rep.hasPrice,
		"source":    source,
	})
	return nil
}

// runWeekly assembles and sends the weekly rollup. It dedups through the
// generic dedup table rather than MarkDigest so it never shifts the daily
// digest's resume point.
func (a *Agent) runWeekly(ctx context.Context, source string) error {
	cfg := a.getConfig()

	callerCtx := ctx
	base := callerCtx
	if actx := a.Context(); actx != nil {
		base = actx
	}
	opCtx, cancel := context.WithTimeout(base, cfg.operationTimeout)
	stopCallerCancel := context.AfterFunc(callerCtx, cancel)
	defer stopCallerCancel()
	defer cancel()

	now := time.Now()
	st := a.Deps.Store

	year, week := now.ISOWeek()
	key := fmt.Sprintf("digest:weekly:%d-W%02d", year, week)
	if st != nil {
		if until, found, err := st.GetDedup(opCtx, key); err == nil && found && now.Before(until) {
			a.Log.Debug("weekly digest already sent", logx.String("key", key))
			return nil
		}
	}

	since := now.Add(-7 * 24 * time.Hour)
	rep := a.collect(opCtx, cfg, since, since)
	if st != nil && cfg.SkipWhenEmpty && rep.empty() {
		a.Log.Debug("weekly digest skipped, nothing new this week")
		a.PublishEvent("digest.skipped", map[string]any{"kind": "weekly", "since": since})
		return nil
	}

	subject := "finwatch weekly digest - " + now.Format("2006-01-02")
	body := renderDigest(rep, st == nil, "7d")
	nb := a.Notify().Subject(subject)
	if cfg.Channel != "" {
		nb = nb.Channel(cfg.Channel)
	}
	if err := nb.Info(body); err != nil {
		return fmt.Errorf("send weekly digest: %w", err)
	}

	if st != nil {
		if err := st.PutDedup(opCtx, key, now.Add(8*24*time.Hour)); err != nil {
			a.Log.Warn("weekly dedup not stored", logx.Err(err))
		}
	}
	_ = a.AppendAudit(opCtx, storage.AuditEntry{
		At:     now,
		Agent:  a.Name(),
		Action: "digest_weekly",
		Target: cfg.Channel,
		OK:     1,
		TookMS: time.Since(now).Milliseconds(),
	})
	a.PublishEvent("digest.sent", map[string]any{
		"kind":      "weekly",
		"channel":   cfg.Channel,
		"news":      len(rep.news),
		"has_price": rep.hasPrice,
		"source":    source,
	})
	return nil
}

// collect gathers the price pair and recent news out of storage. A nil store
// yields an empty report; render explains that case to the reader.
func (a *Agent) collect(ctx context.Context, cfg Config, refCutoff, newsSince time.Time) report {
	rep := report{pair: cfg.Pair, since: newsSince}
	st := a.Deps.Store
	if st == nil {
		return rep
	}

	p, ok, err := st.LatestPrice(ctx, cfg.Pair)
	if err != nil {
		a.Log.Warn("latest price lookup failed", logx.Err(err))
	} else if ok {
		rep.price = p
		rep.hasPrice = true
	}
	ref, ok, err := st.PriceAsOf(ctx, cfg.Pair, refCutoff)
	if err != nil {
		a.Log.Warn("reference price lookup failed", logx.Err(err))
	} else if ok && ref.Price > 0 && rep.hasPrice {
		rep.ref = ref
		rep.hasRef = true
		rep.movePct = (rep.price.Price - ref.Price) / ref.Price * 100
	}
	items, err := st.RecentNews(ctx, newsSince, cfg.MaxNews)
	if err != nil {
		a.Log.Warn("news lookup failed", logx.Err(err))
	} else {
		rep.news = items
	}
	return rep
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
