package model

import (
	"fmt"
	"strings"
	"time"
)

// Symbol is one configured instrument.
type Symbol struct {
	Name     string         // Exchange-native name (e.g. "XBTUSD")
	Market   string         // Exchange name (e.g. "Kraken")
	Time     string         // IANA zone used for display and naive start times
	Location *time.Location // Resolved Time, UTC if unset
	Start    time.Time      // Backfill start when no history exists
}

// String returns the qualified name, e.g. "Kraken:XBTUSD".
func (s Symbol) String() string {
	return s.Market + ":" + s.Name
}

// FileName returns the Trade Log file name for the symbol.
func (s Symbol) FileName() string {
	return strings.ToLower(s.Market) + "." + strings.ToLower(s.Name) + ".trades.csv"
}

// In returns t in the symbol's display zone.
func (s Symbol) In(t time.Time) time.Time {
	if s.Location == nil {
		return t.UTC()
	}
	return t.In(s.Location)
}

var legacyPrefixes = []struct{ from, to string }{
	{"XBT", "BTC"},
	{"XDG", "DOGE"},
}

// Longest first so USDT is not read as USD.
var quoteCurrencies = []string{"USDT", "USDC", "USD", "EUR", "GBP", "CAD", "JPY", "CHF"}

// FeedPair derives the push-feed pair name ("BTC/USD") from a native name ("XBTUSD").
func FeedPair(name string) (string, error) {
	n := strings.ToUpper(name)
	for _, p := range legacyPrefixes {
		if strings.HasPrefix(n, p.from) {
			n = p.to + n[len(p.from):]
			break
		}
	}
	for _, q := range quoteCurrencies {
		if base, ok := strings.CutSuffix(n, q); ok && base != "" {
			return base + "/" + q, nil
		}
	}
	return "", fmt.Errorf("cannot derive feed pair for %q: unknown quote currency", name)
}
