package hrvstr

import (
	"encoding/json"
	"fmt"
)

// Payload serialization is a strict contract: the canonical encoder
// either produces valid JSON or the operation fails with
// ErrSerialization. There is no repair pass on the encoded bytes.
// encoding/json already rejects NaN, Infinity and cyclic values, which
// is exactly the guarantee the cache payload column needs.

// MarshalPayload encodes v canonically for cache storage and transport.
func MarshalPayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// UnmarshalPayload decodes a payload previously produced by
// MarshalPayload.
func UnmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}
