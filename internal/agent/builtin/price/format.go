package price

import (
	"fmt"
	"strings"
	"time"

	"finwatch/internal/storage"
	"finwatch/pkg/coinbase"
	humanize "github.com/dustin/go-humanize"
)

// formatAlert is kept agent-side because it's notification UX.
func formatAlert(cfg Config, spot coinbase.Spot, ref storage.PriceSample, movePct float64) (subject, body string) {
	subject = fmt.Sprintf("%s moved %+.2f%% in %s", cfg.Pair, movePct, shortDur(cfg.window))
	body = fmt.Sprintf(
		"%s is at %s %s, %+.2f%% vs %s %s %s ago (threshold %.1f%%).",
		cfg.Pair,
		humanize.Commaf(spot.Amount), spot.Currency,
		movePct,
		humanize.Commaf(ref.Price), ref.Currency,
		shortDur(cfg.window),
		cfg.MovePercent,
	)
	return subject, body
}

// shortDur renders a duration without trailing zero units ("1h0m0s" -> "1h").
func shortDur(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
