package reconcile

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Candidate is a fuzzy match with its similarity ratio.
type Candidate struct {
	Key   string
	Score float64
}

func chars(s string) []string {
	return strings.Split(s, "")
}

// Similarity is the sequence-matcher ratio 2*M/T between a and b, where M is
// the number of matched characters and T the total length of both strings.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

// CloseMatches returns up to limit candidates whose ratio against word is at
// least cutoff, best first. Equal scores are ordered by candidate string,
// larger first, so the result only depends on the inputs.
func CloseMatches(word string, candidates []string, limit int, cutoff float64) []Candidate {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	m := difflib.NewMatcher(nil, chars(word))
	var scored []Candidate
	for _, c := range candidates {
		m.SetSeq1(chars(c))
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		if r := m.Ratio(); r >= cutoff {
			scored = append(scored, Candidate{Key: c, Score: r})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Key > scored[j].Key
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func candidateKeys(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key
	}
	return out
}
