// Package distance provides the vector math under the affinity engine:
// cosine similarity, L2 normalization and the distance kernels the graph
// index traverses with. It supports float32 and float16 vector precisions.
//
// Kernels are dispatched through per-precision catalogs. At init the package
// detects the CPU and swaps the float32 kernels to Gonum's BLAS
// implementation (SIMD) when AVX2 is available; the pure Go versions remain
// as the reference fallback.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// ErrDimensionMismatch is returned whenever two vectors of different lengths
// meet, or a vector does not match its corpus dimensionality. Boundaries
// reject mismatches outright; nothing is ever padded or truncated.
var ErrDimensionMismatch = errors.New("vector dimensions do not match")

// DefaultDim is the trait vector dimensionality used when a caller does not
// pick one (the five-axis personality model).
const DefaultDim = 5

func init() {
	if cpuid.CPU.Has(cpuid.AVX2) {
		float32Funcs[Cosine] = dotProductAsDistanceGonum
		float32Funcs[Euclidean] = squaredEuclideanGonum
		dotF32 = dotProductGonum
		slog.Debug("affindb compute engine: gonum BLAS kernels enabled", "feature", "AVX2")
	} else {
		slog.Debug("affindb compute engine: pure Go kernels")
	}
}

// Metric selects the distance calculation the index uses.
type Metric string

// Precision selects the storage type of indexed vectors.
type Precision string

const (
	// Cosine is cosine distance, 1 - cosine similarity. Index vectors are
	// normalized on ingest so the kernel reduces to 1 - dot.
	Cosine Metric = "cosine"
	// Euclidean is squared Euclidean distance.
	Euclidean Metric = "euclidean"

	// Float32 stores vectors as single-precision floats.
	Float32 Precision = "float32"
	// Float16 stores vectors as half-precision bit patterns, halving memory
	// at a small accuracy cost.
	Float16 Precision = "float16"
)

// Valid reports whether the metric is one this package implements.
func (m Metric) Valid() bool { return m == Cosine || m == Euclidean }

// Valid reports whether the precision is one this package implements.
func (p Precision) Valid() bool { return p == Float32 || p == Float16 }

// DistanceFuncF32 computes a distance between two float32 vectors.
type DistanceFuncF32 func(v1, v2 []float32) (float64, error)

// DistanceFuncF16 computes a distance between two float16 vectors
// represented as raw bit patterns.
type DistanceFuncF16 func(v1, v2 []uint16) (float64, error)

// diffWorkspace pools scratch slices so the Euclidean kernels run
// allocation-free on the hot path.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 64)
		return &s
	},
}

// dotF32 is the raw dot-product kernel behind CosineSimilarity, swapped to
// the Gonum version at init when the CPU supports it.
var dotF32 = dotProductGo

// CosineSimilarity returns dot(a,b) / (|a|*|b|). Vectors must share a
// length or the call fails with ErrDimensionMismatch. When either vector
// has zero magnitude the similarity is defined as 0, which keeps the result
// finite without special-casing callers. For trait vectors (all components
// >= 0) the result lies in [0,1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: %w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	dot := dotF32(a, b)
	na := dotF32(a, a)
	nb := dotF32(b, b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float64(dot) / math.Sqrt(float64(na)*float64(nb)), nil
}

// Normalize scales v to unit length in place. Zero vectors are left
// untouched: they carry no direction, and downstream cosine math already
// defines their similarity as 0.
func Normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

// ToFloat16 converts a float32 vector to float16 bit patterns.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// FromFloat16 converts float16 bit patterns back to float32.
func FromFloat16(v []uint16) []float32 {
	out := make([]float32, len(v))
	for i, bits := range v {
		out[i] = float16.Frombits(bits).Float32()
	}
	return out
}

// --- reference implementations (pure Go) ---

func dotProductGo(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return sum
}

// dotProductAsDistanceGo is the Cosine kernel on normalized data.
func dotProductAsDistanceGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("cosine distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}
	return 1.0 - float64(dotProductGo(v1, v2)), nil
}

func squaredEuclideanGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("euclidean distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}
	var sum float32
	for i := range v1 {
		diff := v1[i] - v2[i]
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceF16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("cosine distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}
	var sum float32
	for i := range v1 {
		sum += float16.Frombits(v1[i]).Float32() * float16.Frombits(v2[i]).Float32()
	}
	return 1.0 - float64(sum), nil
}

func squaredEuclideanF16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("euclidean distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}
	var sum float32
	for i := range v1 {
		diff := float16.Frombits(v1[i]).Float32() - float16.Frombits(v2[i]).Float32()
		sum += diff * diff
	}
	return float64(sum), nil
}

// --- Gonum implementations (float32) ---

var gonumEngine = gonum.Implementation{}

func dotProductGonum(v1, v2 []float32) float32 {
	return gonumEngine.Sdot(len(v1), v1, 1, v2, 1)
}

func dotProductAsDistanceGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("cosine distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}
	return 1.0 - float64(gonumEngine.Sdot(len(v1), v1, 1, v2, 1)), nil
}

func squaredEuclideanGonum(v1, v2 []float32) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, fmt.Errorf("euclidean distance: %w: %d vs %d", ErrDimensionMismatch, len(v1), len(v2))
	}

	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, v1)
	gonumEngine.Saxpy(n, -1, v2, 1, diff, 1)
	dot := gonumEngine.Sdot(n, diff, 1, diff, 1)
	return float64(dot), nil
}

// --- function catalogs and dispatchers ---

var float32Funcs = map[Metric]DistanceFuncF32{
	Euclidean: squaredEuclideanGo,
	Cosine:    dotProductAsDistanceGo,
}

var float16Funcs = map[Metric]DistanceFuncF16{
	Euclidean: squaredEuclideanF16,
	Cosine:    dotProductAsDistanceF16,
}

// GetFloat32Func returns the distance function for a metric at float32
// precision. It returns an error for unsupported metrics.
func GetFloat32Func(metric Metric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the distance function for a metric at float16
// precision. It returns an error for unsupported metrics.
func GetFloat16Func(metric Metric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}
