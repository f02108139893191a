// Package normalize extracts values from arbitrarily nested payloads
// decoded from JSON: every value stored under a target key is
// collected no matter how deep it sits, embedded JSON strings are
// decoded and searched too, and the result is shaped by match count.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finquery.lib.normalize")

// DefaultTargetKey is the envelope key the shared web client stores
// response bodies under.
const DefaultTargetKey = "response"

// maxDepth bounds recursion; decoded strings count as a level.
const maxDepth = 512

var ErrTooDeep = fmt.Errorf("payload nests deeper than %d levels", maxDepth)

// Kind classifies the node shapes encoding/json produces when
// decoding into any.
type Kind int

const (
	KindScalar Kind = iota
	KindString
	KindSequence
	KindMapping
)

func KindOf(v any) Kind {
	switch v.(type) {
	case map[string]any:
		return KindMapping
	case []any:
		return KindSequence
	case string:
		return KindString
	default:
		return KindScalar
	}
}

type Options struct {
	// TargetKey is the mapping key whose values are collected.
	// Empty means DefaultTargetKey.
	TargetKey string
	// KeepStructure wraps each match in a single-entry mapping keyed
	// by TargetKey instead of recording the bare value.
	KeepStructure bool
	// OnlyParse skips extraction and deep-parses the whole tree.
	OnlyParse bool
}

func decodeString(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract walks tree depth-first and returns every value stored under
// key. Mapping values are visited in sorted-key order so the output
// order is deterministic, sequence elements in order. Strings that
// decode as JSON are searched as well. A tree without the key yields
// an empty slice.
func Extract(tree any, key string, keepStructure bool) ([]any, error) {
	matches := []any{}
	if err := walk(tree, key, keepStructure, 0, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func walk(node any, key string, keepStructure bool, depth int, out *[]any) error {
	if depth > maxDepth {
		return ErrTooDeep
	}

	switch KindOf(node) {
	case KindMapping:
		m := node.(map[string]any)
		if value, ok := m[key]; ok {
			if keepStructure {
				*out = append(*out, map[string]any{key: value})
			} else {
				*out = append(*out, value)
			}
		}
		// the matched value is walked too, matches nested under a
		// match are all collected
		for _, k := range sortedKeys(m) {
			if err := walk(m[k], key, keepStructure, depth+1, out); err != nil {
				return err
			}
		}
	case KindSequence:
		for _, item := range node.([]any) {
			if err := walk(item, key, keepStructure, depth+1, out); err != nil {
				return err
			}
		}
	case KindString:
		decoded, ok := decodeString(node.(string))
		if !ok {
			return nil
		}
		return walk(decoded, key, keepStructure, depth+1, out)
	}

	return nil
}

// DeepParse recursively decodes every string that holds valid JSON,
// however deep it is embedded. Non-JSON strings and scalars pass
// through untouched. The result contains no decodable strings, so
// applying DeepParse twice returns the same value.
func DeepParse(v any) (any, error) {
	return deepParse(v, 0)
}

func deepParse(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}

	switch KindOf(v) {
	case KindMapping:
		m := v.(map[string]any)
		out := make(map[string]any, len(m))
		for k, item := range m {
			parsed, err := deepParse(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = parsed
		}
		return out, nil
	case KindSequence:
		seq := v.([]any)
		out := make([]any, len(seq))
		for i, item := range seq {
			parsed, err := deepParse(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = parsed
		}
		return out, nil
	case KindString:
		decoded, ok := decodeString(v.(string))
		if !ok {
			return v, nil
		}
		return deepParse(decoded, depth+1)
	default:
		return v, nil
	}
}

// Normalize extracts the target key's values from tree and deep-parses
// them. A single match comes back as the bare value, anything else as
// a slice in encounter order (empty when the key never appears). With
// OnlyParse set extraction is skipped entirely.
func Normalize(ctx context.Context, tree any, opts Options) (any, error) {
	ctx, span := tracer.Start(ctx, "Normalize")
	defer span.End()

	key := opts.TargetKey
	if key == "" {
		key = DefaultTargetKey
	}
	span.SetAttributes(attribute.String("target_key", key))

	if opts.OnlyParse {
		out, err := DeepParse(tree)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deep parse failed")
			return nil, err
		}
		return out, nil
	}

	matches, err := Extract(tree, key, opts.KeepStructure)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))

	if len(matches) == 1 {
		out, err := DeepParse(matches[0])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deep parse failed")
			return nil, err
		}
		return out, nil
	}

	out := make([]any, len(matches))
	for i, match := range matches {
		parsed, err := DeepParse(match)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deep parse failed")
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}
