package reconcile

import (
	"sort"
	"strings"
)

// Pass configures one round of fuzzy matching.
type Pass struct {
	Limit  int
	Cutoff float64
}

// Options is the immutable configuration of a Reconciler.
type Options struct {
	InternalPrefix string
	Aliases        AliasTable
	// FirstPass narrows the internal keys to a short list; SecondPass
	// re-ranks only that list and confirms the best entry.
	FirstPass  Pass
	SecondPass Pass
}

// DefaultOptions returns the reference configuration: "sq" prefix, built-in
// aliases, a wide 4/0.30 pass followed by a strict 1/0.60 pass.
func DefaultOptions() Options {
	return Options{
		InternalPrefix: DefaultInternalPrefix,
		Aliases:        NewAliasTable(DefaultAliases()),
		FirstPass:      Pass{Limit: 4, Cutoff: 0.30},
		SecondPass:     Pass{Limit: 1, Cutoff: 0.60},
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	o.InternalPrefix = strings.ToLower(strings.TrimSpace(o.InternalPrefix))
	if o.FirstPass.Limit <= 0 {
		o.FirstPass.Limit = def.FirstPass.Limit
	}
	if o.SecondPass.Limit <= 0 {
		o.SecondPass.Limit = def.SecondPass.Limit
	}
	o.FirstPass.Cutoff = clampCutoff(o.FirstPass.Cutoff)
	o.SecondPass.Cutoff = clampCutoff(o.SecondPass.Cutoff)
	return o
}

func clampCutoff(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Method records how an external name was resolved.
type Method string

const (
	MethodExact      Method = "exact"
	MethodAlias      Method = "alias"
	MethodFuzzy      Method = "fuzzy"
	MethodUnresolved Method = "unresolved"
)

// Match is the reconciliation outcome of one external name.
type Match struct {
	External string
	Internal string
	Method   Method
	// Score is the similarity ratio for fuzzy matches, 1 for exact and alias
	// matches, 0 when unresolved.
	Score float64
	// Candidates holds the first-pass short list, kept for diagnostics.
	Candidates []Candidate
}

func (m Match) Resolved() bool {
	return m.Method != MethodUnresolved
}

// Result carries one Match per distinct external name, in input order.
type Result struct {
	Matches []Match
}

// Table projects the result onto the mapping document.
func (r Result) Table() MappingTable {
	out := make(MappingTable, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, MappingEntry{External: m.External, Internal: m.Internal, Resolved: m.Resolved()})
	}
	return out
}

// Unresolved lists the external names that found no internal counterpart.
func (r Result) Unresolved() []string {
	var out []string
	for _, m := range r.Matches {
		if !m.Resolved() {
			out = append(out, m.External)
		}
	}
	return out
}

// Counts tallies matches per method.
func (r Result) Counts() map[Method]int {
	out := make(map[Method]int, 4)
	for _, m := range r.Matches {
		out[m.Method]++
	}
	return out
}

// Reconciler resolves external names against an internal catalog.
type Reconciler struct {
	opts Options
}

func New(opts Options) *Reconciler {
	return &Reconciler{opts: opts.normalized()}
}

// internalIndex maps normalized internal keys to the original internal name.
// keys keeps first-seen order; a repeated key keeps its position but takes the
// later name.
type internalIndex struct {
	keys  []string
	byKey map[string]string
}

func (r *Reconciler) index(internal []string) internalIndex {
	idx := internalIndex{byKey: make(map[string]string, len(internal))}
	for _, name := range internal {
		k := internalKey(name, r.opts.InternalPrefix)
		if _, seen := idx.byKey[k]; !seen {
			idx.keys = append(idx.keys, k)
		}
		idx.byKey[k] = name
	}
	return idx
}

// Match resolves every distinct external name. The result is total: each
// external name gets exactly one Match, resolved or not.
func (r *Reconciler) Match(external, internal []string) Result {
	idx := r.index(internal)
	seen := make(map[string]bool, len(external))
	res := Result{Matches: make([]Match, 0, len(external))}
	for _, ext := range external {
		if seen[ext] {
			continue
		}
		seen[ext] = true
		res.Matches = append(res.Matches, r.matchOne(ext, idx))
	}
	return res
}

// Reconcile returns the mapping table for external against internal.
func (r *Reconciler) Reconcile(external, internal []string) MappingTable {
	return r.Match(external, internal).Table()
}

func (r *Reconciler) matchOne(ext string, idx internalIndex) Match {
	key := Normalize(ext)
	if name, ok := idx.byKey[key]; ok {
		return Match{External: ext, Internal: name, Method: MethodExact, Score: 1}
	}
	if target, ok := r.opts.Aliases.Lookup(key); ok && target != "" {
		if name, ok := r.aliasTarget(target, idx); ok {
			return Match{External: ext, Internal: name, Method: MethodAlias, Score: 1}
		}
	}
	first := CloseMatches(key, idx.keys, r.opts.FirstPass.Limit, r.opts.FirstPass.Cutoff)
	if len(first) > 0 {
		second := CloseMatches(key, candidateKeys(first), r.opts.SecondPass.Limit, r.opts.SecondPass.Cutoff)
		if len(second) > 0 {
			return Match{
				External:   ext,
				Internal:   idx.byKey[second[0].Key],
				Method:     MethodFuzzy,
				Score:      second[0].Score,
				Candidates: first,
			}
		}
	}
	return Match{External: ext, Method: MethodUnresolved, Candidates: first}
}

// aliasTarget finds the internal name an alias points to. Targets are written
// in the internal vocabulary, so the prefix-stripped key is tried first.
func (r *Reconciler) aliasTarget(target string, idx internalIndex) (string, bool) {
	for _, k := range []string{internalKey(target, r.opts.InternalPrefix), Normalize(target)} {
		if name, ok := idx.byKey[k]; ok {
			return name, true
		}
	}
	return "", false
}

// SortedUnique returns names sorted with duplicates removed.
func SortedUnique(names []string) []string {
	set := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := set[n]; ok {
			continue
		}
		set[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
