package digest

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
)

// renderDigest builds the plain-text digest body. windowLabel names the
// comparison window in the price line ("24h", "7d").
func renderDigest(rep report, storeDisabled bool, windowLabel string) string {
	if storeDisabled {
		return "No stored data: storage is disabled, so there is no price history or news to summarize."
	}

	var b strings.Builder
	if rep.hasPrice {
		b.WriteString(rep.pair)
		b.WriteString(": ")
		b.WriteString(humanize.Commaf(rep.price.Price))
		b.WriteString(" ")
		b.WriteString(rep.price.Currency)
		if rep.hasRef {
			fmt.Fprintf(&b, " (%+.2f%% over %s, from %s)", rep.movePct, windowLabel, humanize.Commaf(rep.ref.Price))
		}
		fmt.Fprintf(&b, "\nlast sample %s\n", humanize.Time(rep.price.At))
	} else {
		fmt.Fprintf(&b, "No price samples for %s yet.\n", rep.pair)
	}

	b.WriteString("\n")
	if len(rep.news) == 0 {
		fmt.Fprintf(&b, "No news since %s.", humanize.Time(rep.since))
		return b.String()
	}
	fmt.Fprintf(&b, "News (%d, since %s):\n", len(rep.news), humanize.Time(rep.since))
	for _, it := range rep.news {
		when := it.PublishedAt
		if when == "" {
			when = humanize.Time(it.At)
		}
		fmt.Fprintf(&b, "- %s (%s, %s)\n  %s\n", it.Title, it.Source, when, it.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
