// Package codec converts wire payloads into typed values.
//
// The decoder is chosen from the declared result type: text-shaped results (string, []byte,
// json.RawMessage) are passed through untouched, everything else goes through encoding/json.
package codec

import (
	"encoding/json"
	"fmt"
)

// Decoder turns a payload into a T.
type Decoder[T any] interface {
	Decode(payload string) (T, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(payload string) (T, error)

func (f DecoderFunc[T]) Decode(payload string) (T, error) { return f(payload) }

// For returns the decoder for T.
func For[T any]() Decoder[T] {
	var zero T
	switch any(zero).(type) {
	case string:
		return DecoderFunc[T](func(p string) (T, error) {
			return any(p).(T), nil
		})
	case []byte:
		return DecoderFunc[T](func(p string) (T, error) {
			return any([]byte(p)).(T), nil
		})
	case json.RawMessage:
		return DecoderFunc[T](func(p string) (T, error) {
			if !json.Valid([]byte(p)) {
				var none T
				return none, fmt.Errorf("codec: payload is not valid JSON")
			}
			return any(json.RawMessage(p)).(T), nil
		})
	default:
		return DecoderFunc[T](decodeJSON[T])
	}
}

// Decode is shorthand for For[T]().Decode(payload).
func Decode[T any](payload string) (T, error) {
	return For[T]().Decode(payload)
}

func decodeJSON[T any](payload string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("codec: decode %T: %w", out, err)
	}
	return out, nil
}

// EncodeJSON serializes an upload body.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return data, nil
}
