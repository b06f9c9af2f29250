package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SpecHash computes a stable hash of a resource's non-secret attributes.
// encoding/json sorts map keys, so equal attribute maps hash equally
// regardless of insertion order, including nested maps.
func SpecHash(attrs Attributes) (string, error) {
	if len(attrs) == 0 {
		return hashBytes([]byte("{}")), nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", NewSpecError("attributes are not hashable", err).
			WithCode(ErrCodeValidation)
	}
	return hashBytes(raw), nil
}

// MustSpecHash is SpecHash for attribute maps known to be JSON-encodable,
// such as maps already decoded from a manifest. Panics otherwise.
func MustSpecHash(attrs Attributes) string {
	h, err := SpecHash(attrs)
	if err != nil {
		panic(fmt.Sprintf("engine: unhashable attributes: %v", err))
	}
	return h
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
