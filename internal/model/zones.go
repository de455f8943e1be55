package model

import (
	"fmt"
	"time"
)

// Zones is a lookup of IANA time zones resolved once at startup.
type Zones struct {
	locs map[string]*time.Location
}

// LoadZones resolves every named zone. Empty names are skipped.
func LoadZones(names ...string) (*Zones, error) {
	z := &Zones{locs: map[string]*time.Location{"UTC": time.UTC}}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := z.locs[name]; ok {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", name, err)
		}
		z.locs[name] = loc
	}
	return z, nil
}

// Lookup returns the location for name. An empty name is UTC.
func (z *Zones) Lookup(name string) (*time.Location, bool) {
	if name == "" {
		return time.UTC, true
	}
	loc, ok := z.locs[name]
	return loc, ok
}
