package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a memoised operation result.
type Key struct {
	// Operation names what was computed (e.g. "profile", "repos", "complete").
	Operation string

	// Subject is the entity the operation ran against (e.g. a username).
	Subject string

	// Params are the options that influence the result.
	Params map[string]any
}

// String generates a deterministic cache key string.
// Format: operation:subject:paramhash
//
// The parameter hash is the 64-bit xxhash of the canonical JSON encoding of
// Params; encoding/json sorts map keys, so insertion order does not matter.
//
// Example:
//
//	complete:octocat:9c1b5e0d5f0e4a7b
func (k Key) String() string {
	parts := []string{
		strings.TrimSpace(k.Operation),
		strings.ToLower(strings.TrimSpace(k.Subject)),
		fmt.Sprintf("%016x", xxhash.Sum64(canonicalParams(k.Params))),
	}
	return strings.Join(parts, ":")
}

func canonicalParams(params map[string]any) []byte {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		// fmt prints maps with sorted keys as well
		return []byte(fmt.Sprintf("%v", params))
	}
	return b
}
