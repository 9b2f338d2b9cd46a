// Corpus loading for the benchmark runner: msgpack profile streams on disk
// and a seeded synthetic generator for when no real corpus is available.
package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ruggierom/affindb/pkg/core/types"
)

const corpusVersion = 1

// corpusHeader prefixes a corpus file so loads can reject wrong
// dimensionalities before decoding thousands of profiles.
type corpusHeader struct {
	Version int `msgpack:"version"`
	Dim     int `msgpack:"dim"`
	Count   int `msgpack:"count"`
}

// writeCorpus writes the header followed by one msgpack document per
// profile, so files can be streamed back without holding an extra copy.
func writeCorpus(path string, dim int, profiles []types.Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create corpus file '%s': %w", path, err)
	}

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(&corpusHeader{Version: corpusVersion, Dim: dim, Count: len(profiles)}); err != nil {
		f.Close()
		return fmt.Errorf("corpus header encode failed: %w", err)
	}
	for i := range profiles {
		if err := enc.Encode(&profiles[i]); err != nil {
			f.Close()
			return fmt.Errorf("corpus encode failed at profile %d: %w", i, err)
		}
	}
	return f.Close()
}

// loadCorpus streams a corpus file back into memory. wantDim guards against
// mixing corpora of different dimensionality (0 skips the check).
func loadCorpus(path string, wantDim int) ([]types.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open corpus file '%s': %w", path, err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)

	var hdr corpusHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("corpus header decode failed ('%s'): %w", path, err)
	}
	if hdr.Version != corpusVersion {
		return nil, fmt.Errorf("corpus file '%s' has version %d, want %d", path, hdr.Version, corpusVersion)
	}
	if wantDim > 0 && hdr.Dim != wantDim {
		return nil, fmt.Errorf("corpus file '%s' has dim %d, config wants %d", path, hdr.Dim, wantDim)
	}

	profiles := make([]types.Profile, 0, hdr.Count)
	for {
		var p types.Profile
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("corpus decode failed at profile %d: %w", len(profiles), err)
		}
		profiles = append(profiles, p)
	}
	if len(profiles) != hdr.Count {
		return nil, fmt.Errorf("corpus file '%s' is truncated: header says %d profiles, found %d", path, hdr.Count, len(profiles))
	}
	return profiles, nil
}

// generateCorpus builds a clustered synthetic corpus: a set of archetype
// centers drawn uniformly in [0,1]^dim, each profile an archetype plus
// per-trait jitter clamped back into [0,1]. Confidence comes from the same
// rng, so a seed fully determines the corpus.
func generateCorpus(dim int, cfg SyntheticConfig, seed int64) []types.Profile {
	rng := rand.New(rand.NewSource(seed))

	centers := make([][]float32, cfg.Archetypes)
	for i := range centers {
		c := make([]float32, dim)
		for j := range c {
			c[j] = rng.Float32()
		}
		centers[i] = c
	}

	profiles := make([]types.Profile, cfg.Profiles)
	for i := range profiles {
		center := centers[rng.Intn(len(centers))]
		vec := make([]float32, dim)
		for j := range vec {
			v := center[j] + float32((rng.Float64()*2-1)*cfg.Jitter)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			vec[j] = v
		}
		profiles[i] = types.Profile{
			ID:         fmt.Sprintf("synthetic-%05d", i),
			Vector:     vec,
			Confidence: rng.Float64(),
		}
	}
	return profiles
}
