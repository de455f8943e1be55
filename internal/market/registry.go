package market

import (
	"fmt"
	"strings"

	"github.com/oerlikon/prep/internal/model"
)

// Registry is an immutable set of instruments.
type Registry struct {
	symbols []model.Symbol
	pairs   []string
	byName  map[string]int
	byPair  map[string]int
}

// NewRegistry indexes symbols by name and feed pair.
// Duplicate names (case-insensitive) or pairs are rejected.
func NewRegistry(symbols []model.Symbol) (*Registry, error) {
	r := &Registry{
		symbols: make([]model.Symbol, 0, len(symbols)),
		pairs:   make([]string, 0, len(symbols)),
		byName:  make(map[string]int, len(symbols)),
		byPair:  make(map[string]int, len(symbols)),
	}

	for _, s := range symbols {
		key := strings.ToUpper(s.Name)
		if _, ok := r.byName[key]; ok {
			return nil, fmt.Errorf("duplicate symbol %q", s.Name)
		}
		pair, err := model.FeedPair(s.Name)
		if err != nil {
			return nil, err
		}
		if i, ok := r.byPair[pair]; ok {
			return nil, fmt.Errorf("symbols %q and %q share feed pair %s", r.symbols[i].Name, s.Name, pair)
		}

		i := len(r.symbols)
		r.symbols = append(r.symbols, s)
		r.pairs = append(r.pairs, pair)
		r.byName[key] = i
		r.byPair[pair] = i
	}

	return r, nil
}

// Len returns the number of instruments.
func (r *Registry) Len() int {
	return len(r.symbols)
}

// Symbols returns the instruments in configuration order.
func (r *Registry) Symbols() []model.Symbol {
	out := make([]model.Symbol, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Pairs returns the feed pairs in configuration order.
func (r *Registry) Pairs() []string {
	out := make([]string, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// Lookup returns the instrument with the given name.
func (r *Registry) Lookup(name string) (model.Symbol, bool) {
	i, ok := r.byName[strings.ToUpper(name)]
	if !ok {
		return model.Symbol{}, false
	}
	return r.symbols[i], true
}

// ByPair returns the instrument subscribed under the given feed pair.
func (r *Registry) ByPair(pair string) (model.Symbol, bool) {
	i, ok := r.byPair[pair]
	if !ok {
		return model.Symbol{}, false
	}
	return r.symbols[i], true
}

// Pair returns the feed pair for the named instrument.
func (r *Registry) Pair(name string) (string, bool) {
	i, ok := r.byName[strings.ToUpper(name)]
	if !ok {
		return "", false
	}
	return r.pairs[i], true
}
