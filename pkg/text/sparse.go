package text

import (
	"hash/fnv"
	"math"
	"sort"
)

// SparseVector mirrors the wire shape of a weighted-term vector: parallel
// index and value slices, indices strictly increasing.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// EncodeSparse converts text into a sparse lexical vector. Term indices are
// FNV-1a hashes of the token, so encoder instances need no shared vocabulary;
// weights are L2-normalized log-scaled term frequencies.
func EncodeSparse(text string) SparseVector {
	toks := ContentTokens(text)
	if len(toks) == 0 {
		return SparseVector{}
	}

	tf := make(map[uint32]float64, len(toks))
	for _, tok := range toks {
		tf[termIndex(tok)]++
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	var norm float64
	for i, idx := range indices {
		w := 1 + math.Log(tf[idx])
		values[i] = float32(w)
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for i := range values {
		values[i] = float32(float64(values[i]) / norm)
	}
	return SparseVector{Indices: indices, Values: values}
}

func termIndex(tok string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return h.Sum32()
}
