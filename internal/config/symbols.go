package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oerlikon/prep/internal/model"
)

// Zones resolves every time zone named by the symbol tree.
func (c *Config) Zones() (*model.Zones, error) {
	var names []string
	var walk func([]SymbolConfig)
	walk = func(nodes []SymbolConfig) {
		for _, n := range nodes {
			if n.Time != "" {
				names = append(names, n.Time)
			}
			walk(n.Symbols)
		}
	}
	walk(c.Symbols)
	return model.LoadZones(names...)
}

// Instruments flattens the symbol tree into instruments in configuration order.
// Groups pass market, time and start down to their children.
func (c *Config) Instruments(zones *model.Zones) ([]model.Symbol, error) {
	var out []model.Symbol
	seen := make(map[string]bool)
	root := SymbolConfig{Market: DefaultMarket}
	if err := flatten(c.Symbols, root, "symbols", zones, seen, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("symbols must list at least one symbol")
	}
	return out, nil
}

func flatten(nodes []SymbolConfig, parent SymbolConfig, path string, zones *model.Zones, seen map[string]bool, out *[]model.Symbol) error {
	for i, n := range nodes {
		at := fmt.Sprintf("%s[%d]", path, i)
		n = inherit(n, parent)

		if len(n.Symbols) > 0 {
			if n.Name != "" {
				return fmt.Errorf("%s: a group cannot have a name", at)
			}
			if err := flatten(n.Symbols, n, at+".symbols", zones, seen, out); err != nil {
				return err
			}
			continue
		}

		if n.Name == "" {
			return fmt.Errorf("%s.name is required", at)
		}
		if !strings.EqualFold(n.Market, DefaultMarket) {
			return fmt.Errorf("%s.market: unsupported market %q", at, n.Market)
		}
		key := strings.ToUpper(n.Name)
		if seen[key] {
			return fmt.Errorf("%s: duplicate symbol %q", at, n.Name)
		}
		seen[key] = true

		loc, ok := zones.Lookup(n.Time)
		if !ok {
			return fmt.Errorf("%s.time: unknown time zone %q", at, n.Time)
		}
		start, err := ParseStart(n.Start, loc)
		if err != nil {
			return fmt.Errorf("%s.start: %w", at, err)
		}

		*out = append(*out, model.Symbol{
			Name:     strings.ToUpper(n.Name),
			Market:   DefaultMarket,
			Time:     n.Time,
			Location: loc,
			Start:    start,
		})
	}
	return nil
}

func inherit(n, parent SymbolConfig) SymbolConfig {
	if n.Market == "" {
		n.Market = parent.Market
	}
	if n.Time == "" {
		n.Time = parent.Time
	}
	if n.Start == "" {
		n.Start = parent.Start
	}
	return n
}

var startLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseStart parses a backfill start: a year, a date, a naive date-time
// read in loc, or an RFC 3339 timestamp. An empty value is the zero time.
func ParseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(s) == 4 {
		year, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid year %q", s)
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, loc), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a year, date or timestamp", s)
}
