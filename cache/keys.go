package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// maxKeyLen bounds key size; longer canonical forms are hashed.
const maxKeyLen = 256

// BuildKey derives a deterministic cache key from a context label and a
// request parameter object, in the form "{label}:{canonicalParamJson}".
// Parameters are canonicalized by round-tripping through JSON so that map
// keys and struct fields serialize in sorted order — two logically identical
// parameter sets always produce the same key regardless of construction
// order. Canonical forms longer than maxKeyLen are replaced by an xxhash
// digest to keep keys storage-friendly.
//
// If params cannot be encoded (functions, channels, cyclic values), BuildKey
// degrades to a timestamp-based key that can only ever miss, and returns a
// non-nil error describing why so the caller can log the degradation.
// The returned key is always usable.
func BuildKey(label string, params any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return fmt.Sprintf("%s:%d", label, time.Now().UnixNano()),
			errors.Wrapf(err, "cache: params for %q are not encodable, caching disabled for this call", label)
	}
	if len(canonical) > maxKeyLen {
		return fmt.Sprintf("%s:%x", label, xxhash.Sum64String(canonical)), nil
	}
	return label + ":" + canonical, nil
}

// canonicalize renders params as JSON with all object keys sorted.
// encoding/json sorts map keys but serializes struct fields in declaration
// order, so structs are first decoded into maps to normalize them.
func canonicalize(params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}
