// Package embedding defines the vectorization boundary. The vault never
// computes embeddings itself; callers plug in a Source (a model client, an
// inference sidecar) and the vault validates the returned dimensionality.
package embedding

import "context"

// Source produces an embedding vector for a piece of content.
type Source interface {
	Embed(ctx context.Context, content string) ([]float32, error)
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context, content string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, content string) ([]float32, error) {
	return f(ctx, content)
}
