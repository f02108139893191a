// Package mapping resolves between canonical keys and their
// display-name synonyms, case-insensitively in both directions.
package mapping

import (
	"strings"

	"github.com/antzucaro/matchr"
)

type Entry struct {
	// Key is the canonical identifier.
	Key string
	// Names are the display names and synonyms that resolve to Key.
	Names []string
}

type Resolver struct {
	entries []Entry
	// lowercased canonical key -> registered key
	canonical map[string]string
	// lowercased synonym -> registered key, earliest entry wins
	synonyms map[string]string
}

func New(entries []Entry) *Resolver {
	r := &Resolver{
		entries:   entries,
		canonical: map[string]string{},
		synonyms:  map[string]string{},
	}
	for _, entry := range entries {
		key := strings.ToLower(entry.Key)
		if _, taken := r.canonical[key]; !taken {
			r.canonical[key] = entry.Key
		}
		for _, name := range entry.Names {
			synonym := strings.ToLower(name)
			if _, taken := r.synonyms[synonym]; !taken {
				r.synonyms[synonym] = entry.Key
			}
		}
	}
	return r
}

func clean(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Canonical resolves a label to its canonical key. Canonical keys are
// checked before synonyms, so a label registered as both resolves to
// itself.
func (r *Resolver) Canonical(label string) (string, bool) {
	cleaned := clean(label)
	if key, ok := r.canonical[cleaned]; ok {
		return key, true
	}
	if key, ok := r.synonyms[cleaned]; ok {
		return key, true
	}
	return "", false
}

// Names returns the display names registered under a canonical key.
func (r *Resolver) Names(key string) ([]string, bool) {
	cleaned := clean(key)
	for _, entry := range r.entries {
		if strings.ToLower(entry.Key) == cleaned {
			return entry.Names, true
		}
	}
	return nil, false
}

// Nearest returns the known label most similar to the input along
// with its Jaro-Winkler similarity, for suggestions in error messages.
func (r *Resolver) Nearest(label string) (string, float64) {
	cleaned := clean(label)

	best := ""
	bestSimilarity := 0.0
	consider := func(candidate string) {
		similarity := matchr.JaroWinkler(cleaned, strings.ToLower(candidate), false)
		if similarity > bestSimilarity {
			best = candidate
			bestSimilarity = similarity
		}
	}

	for _, entry := range r.entries {
		consider(entry.Key)
		for _, name := range entry.Names {
			consider(name)
		}
	}
	return best, bestSimilarity
}
