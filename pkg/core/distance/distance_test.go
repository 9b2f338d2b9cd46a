package distance

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-6
	return math.Abs(a-b) < tolerance
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("SelfIsOne", func(t *testing.T) {
		v := []float32{0.3, 0.7, 0.1, 0.9, 0.5}
		sim, err := CosineSimilarity(v, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !floatsAreEqual(sim, 1.0) {
			t.Errorf("cos(v,v) = %f, want 1.0", sim)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 50; i++ {
			a := randomTraitVector(rng, 5)
			b := randomTraitVector(rng, 5)
			ab, err := CosineSimilarity(a, b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ba, err := CosineSimilarity(b, a)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ab != ba {
				t.Errorf("cos(a,b)=%v != cos(b,a)=%v", ab, ba)
			}
		}
	})

	t.Run("ZeroVector", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		v := []float32{1, 2, 3}
		sim, err := CosineSimilarity(zero, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sim != 0 {
			t.Errorf("cos(0,v) = %f, want 0", sim)
		}
		if math.IsNaN(sim) {
			t.Error("zero vector produced NaN")
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("got %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("OrthogonalIsZero", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !floatsAreEqual(sim, 0.0) {
			t.Errorf("got %f, want 0.0", sim)
		}
	})
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if !floatsAreEqual(float64(v[0]), 0.6) || !floatsAreEqual(float64(v[1]), 0.8) {
		t.Errorf("got %v, want [0.6 0.8]", v)
	}

	zero := []float32{0, 0, 0}
	Normalize(zero)
	for i, x := range zero {
		if x != 0 {
			t.Errorf("zero vector changed at %d: %f", i, x)
		}
	}
}

func TestKernels(t *testing.T) {
	t.Run("EuclideanF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Euclidean)
		v1, v2 := []float32{1, 2}, []float32{3, 4}
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, 8.0) {
			t.Errorf("got %f, want 8.0", dist)
		}
	})

	t.Run("CosineF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		v1 := []float32{1, 2, 3}
		Normalize(v1)
		v2 := append([]float32{}, v1...)
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, 0.0) {
			t.Errorf("got %.15f, want 0.0", dist)
		}
	})

	t.Run("CosineF16", func(t *testing.T) {
		fn, _ := GetFloat16Func(Cosine)
		v := []float32{0.6, 0.8}
		bits := ToFloat16(v)
		dist, _ := fn(bits, bits)
		// float16 rounding keeps self-distance near but not exactly 0.
		if math.Abs(dist) > 1e-3 {
			t.Errorf("got %f, want ~0", dist)
		}
	})

	t.Run("EuclideanF16", func(t *testing.T) {
		fn, _ := GetFloat16Func(Euclidean)
		v1 := ToFloat16([]float32{1, 2})
		v2 := ToFloat16([]float32{3, 4})
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, 8.0) {
			t.Errorf("got %f, want 8.0", dist)
		}
	})

	t.Run("MismatchAllKernels", func(t *testing.T) {
		f32, _ := GetFloat32Func(Cosine)
		if _, err := f32([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("f32 cosine: got %v", err)
		}
		f16, _ := GetFloat16Func(Euclidean)
		if _, err := f16([]uint16{1}, []uint16{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("f16 euclidean: got %v", err)
		}
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		if _, err := GetFloat32Func(Metric("hamming")); err == nil {
			t.Error("expected error for unsupported metric")
		}
	})
}

// TestGonumMatchesReference pins the swapped-in BLAS kernels to the pure Go
// ones on random input.
func TestGonumMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		a := randomTraitVector(rng, 16)
		b := randomTraitVector(rng, 16)

		gd, err := dotProductAsDistanceGonum(a, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rd, _ := dotProductAsDistanceGo(a, b)
		if math.Abs(gd-rd) > 1e-5 {
			t.Fatalf("cosine: gonum %v vs reference %v", gd, rd)
		}

		ge, err := squaredEuclideanGonum(a, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		re, _ := squaredEuclideanGo(a, b)
		if math.Abs(ge-re) > 1e-4 {
			t.Fatalf("euclidean: gonum %v vs reference %v", ge, re)
		}
	}
}

func TestFloat16Roundtrip(t *testing.T) {
	v := []float32{0.25, 0.5, 0.75, 1.0, 0.0}
	back := FromFloat16(ToFloat16(v))
	for i := range v {
		if math.Abs(float64(back[i]-v[i])) > 1e-3 {
			t.Errorf("component %d: %f -> %f", i, v[i], back[i])
		}
	}
}

func randomTraitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func BenchmarkCosineF32(b *testing.B) {
	fn, _ := GetFloat32Func(Cosine)
	rng := rand.New(rand.NewSource(1))
	for _, d := range []int{5, 16, 64, 256} {
		b.Run(fmt.Sprintf("%dD", d), func(b *testing.B) {
			v1 := randomTraitVector(rng, d)
			v2 := randomTraitVector(rng, d)
			Normalize(v1)
			Normalize(v2)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				fn(v1, v2)
			}
		})
	}
}

func BenchmarkCosineSimilarity(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	v1 := randomTraitVector(rng, 5)
	v2 := randomTraitVector(rng, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CosineSimilarity(v1, v2)
	}
}
