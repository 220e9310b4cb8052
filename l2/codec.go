package l2

import "encoding/json"

// Codec serialises artifacts into the vector store payload.
type Codec[A any] interface {
	Marshal(A) ([]byte, error)
	Unmarshal([]byte) (A, error)
}

// JSONCodec stores artifacts as JSON.
type JSONCodec[A any] struct{}

func (JSONCodec[A]) Marshal(a A) ([]byte, error) { return json.Marshal(a) }

func (JSONCodec[A]) Unmarshal(b []byte) (A, error) {
	var a A
	err := json.Unmarshal(b, &a)
	return a, err
}
