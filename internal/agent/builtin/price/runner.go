package price

import (
	"context"
	"errors"
	logx "finwatch/pkg/logx"
	"math"
	"time"

	"finwatch/internal/storage"
	"finwatch/pkg/coinbase"
)

// runFetch executes one spot-price fetch with goroutine ownership under the
// agent supervisor.
func (a *Agent) runFetch(ctx context.Context, source string) error {
	cfg := a.getConfig()
	cli := a.getClient()
	if cli == nil {
		return errors.New("market client not configured")
	}

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

	start := time.Now()
	spot, err := cli.SpotPrice(opCtx, cfg.Pair)
	if err != nil {
		// Scheduler failure accounting + the health loop cover persistent
		// outages; alerting every miss would spam.
		a.Log.Warn("spot fetch failed", logx.String("pair", cfg.Pair), logx.Err(err))
		return err
	}
	a.lastFetch.Store(spot.At.UnixNano())

	a.PublishEvent("market.price", map[string]any{
		"pair":     spot.Pair,
		"price":    spot.Amount,
		"currency": spot.Currency,
		"at":       spot.At,
		"source":   source,
		"took_ms":  time.Since(start).Milliseconds(),
	})

	st := a.Deps.Store
	if st == nil {
		a.Log.Debug("storage disabled; sample not kept", logx.String("pair", spot.Pair))
		return nil
	}
	if err := st.InsertPrice(opCtx, storage.PriceSample{
		At:       spot.At,
		Pair:     spot.Pair,
		Price:    spot.Amount,
		Currency: spot.Currency,
	}); err != nil {
		a.Log.Warn("price sample not stored", logx.Err(err))
	}

	a.maybeAlert(opCtx, cfg, spot)
	return nil
}

// maybeAlert compares the fresh quote against the sample one window back and
// raises a notification when the move crosses the configured threshold.
//
// Alerts dedup on pair + direction for the cooldown period so a flapping
// market doesn't spam the channel.
func (a *Agent) maybeAlert(ctx context.Context, cfg Config, spot coinbase.Spot) {
	st := a.Deps.Store
	if st == nil {
		return
	}
	ref, ok, err := st.PriceAsOf(ctx, cfg.Pair, spot.At.Add(-cfg.window))
	if err != nil {
		a.Log.Warn("reference price lookup failed", logx.Err(err))
		return
	}
	if !ok || ref.Price <= 0 {
		// Not enough history yet.
		return
	}

	movePct := (spot.Amount - ref.Price) / ref.Price * 100
	if math.Abs(movePct) < cfg.MovePercent {
		return
	}
	direction := "up"
	if movePct < 0 {
		direction = "down"
	}

	key := "price_alert:" + cfg.Pair + ":" + direction
	if until, found, err := st.GetDedup(ctx, key); err == nil && found && time.Now().Before(until) {
		a.Log.Debug("alert suppressed by cooldown",
			logx.String("pair", cfg.Pair),
			logx.String("direction", direction),
			logx.Time("until", until))
		return
	}

	subject, body := formatAlert(cfg, spot, ref, movePct)
	nb := a.Notify().Subject(subject)
	if cfg.Channel != "" {
		nb = nb.Channel(cfg.Channel)
	}
	if err := nb.Warn(body); err != nil {
		a.Log.Warn("alert not delivered", logx.Err(err))
		return
	}

	if err := st.PutDedup(ctx, key, time.Now().Add(cfg.cooldown)); err != nil {
		a.Log.Warn("alert cooldown not stored", logx.Err(err))
	}
	_ = a.AppendAudit(ctx, storage.AuditEntry{
		At:     time.Now(),
		Agent:  a.Name(),
		Action: "alert",
		Target: cfg.Pair,
		OK:     1,
	})
	a.PublishEvent("market.alert", map[string]any{
		"pair":      cfg.Pair,
		"direction": direction,
		"move_pct":  movePct,
		"threshold": cfg.MovePercent,
		"price":     spot.Amount,
		"ref_price": ref.Price,
		"window":    cfg.window.String(),
	})
}
