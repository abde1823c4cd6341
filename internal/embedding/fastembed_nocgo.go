//go:build !cgo

package embedding

import "errors"

// ErrFastEmbedUnavailable is returned by binaries built without cgo, which
// cannot load the ONNX runtime. Use the ollama or openai provider instead.
var ErrFastEmbedUnavailable = errors.New("fastembed: not available without cgo")

func NewFastEmbedder(_, _ string) (Provider, error) {
	return nil, ErrFastEmbedUnavailable
}
