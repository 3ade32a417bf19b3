package reconcile

import (
	"sort"
	"strings"
)

// DefaultAliases bridges names that neither exact nor fuzzy matching resolves.
// An empty target marks an external name with no internal counterpart.
func DefaultAliases() map[string]string {
	return map[string]string{
		"WilliamsPR":       "SqWpr",
		"LinearRegression": "LinReg",
		"SMA":              "Custom Moving Average",
		"SMMA":             "",
		"EMA":              "",
		"LWMA":             "",
		"CRSI":             "ConnorsRSI",
	}
}

// AliasTable is an immutable alias set keyed by the normalized external name.
type AliasTable struct {
	entries map[string]string
}

// NewAliasTable normalizes the keys of raw. Targets are kept in the internal
// vocabulary; "null" is read as no target.
func NewAliasTable(raw map[string]string) AliasTable {
	entries := make(map[string]string, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	// later keys win on collision; sort so the winner does not depend on map order
	sort.Strings(keys)
	for _, k := range keys {
		nk := Normalize(k)
		if nk == "" {
			continue
		}
		v := strings.TrimSpace(raw[k])
		if strings.EqualFold(v, "null") {
			v = ""
		}
		entries[nk] = v
	}
	return AliasTable{entries: entries}
}

// Lookup returns the alias target for a normalized external key. ok is true
// when the key is listed, even if it has no target.
func (a AliasTable) Lookup(key string) (target string, ok bool) {
	if a.entries == nil {
		return "", false
	}
	target, ok = a.entries[key]
	return target, ok
}

func (a AliasTable) Len() int {
	return len(a.entries)
}
