package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/fableforge/chronicle/internal/registry/embed"
)

const (
	modelName = "fnv-bag-of-words"
	dimension = 384
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "hashing",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &HashingEmbedder{}, nil
		},
	})
}

// HashingEmbedder maps tokens into a fixed-size vector with an FNV hash.
// It is deterministic and needs no network access, which makes it the
// default for development and tests.
type HashingEmbedder struct{}

func (e *HashingEmbedder) ModelName() string {
	return modelName
}

func (e *HashingEmbedder) Dimension() int {
	return dimension
}

func (e *HashingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, dimension)
	tokens := tokenize(text)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		i := int(h.Sum64() % uint64(dimension))
		vector[i] += 1
	}
	norm := float32(0)
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
	return fields
}

var _ registryembed.Embedder = (*HashingEmbedder)(nil)
