// Package embedding turns questions into fixed-size vectors for the
// similarity cache.
package embedding

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// DefaultDimension matches the vector(384) column created by the cache migration.
const DefaultDimension = 384

// Embedder computes a vector for a piece of text.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}

// HashEmbedder is a deterministic bag-of-words embedder. Each word and each
// adjacent word pair is hashed into a bucket; the vector is L2-normalized.
// Case and punctuation do not affect the result.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder with the given dimension (DefaultDimension if <= 0).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokens splits text into lowercase words of letters and digits.
func Tokens(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// Embed returns the normalized vector for text. Text without words yields a zero vector.
func (h *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := Tokens(text)

	for i, tok := range tokens {
		h.add(vec, "w:"+tok, 1.0)
		if i > 0 {
			h.add(vec, "b:"+tokens[i-1]+" "+tok, 0.5)
		}
	}

	normalize(vec)
	return vec
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()

	idx := int(sum % uint64(h.dim))
	// the top bit picks a sign so collisions partially cancel
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	norm := float32(math.Sqrt(sq))
	for i := range vec {
		vec[i] /= norm
	}
}

// L2Distance returns the Euclidean distance between two vectors of equal length.
func L2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	for i := n; i < len(a); i++ {
		sum += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		sum += float64(b[i]) * float64(b[i])
	}
	return math.Sqrt(sum)
}
