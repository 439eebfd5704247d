package train

import (
	"encoding/binary"
	"math"
)

// A Hasher is a SampleList which can hash its samples,
// typically by case name.
type Hasher interface {
	SampleList
	Hash(i int) []byte
}

// HashFraction maps a hash to a number in [0, 1) by
// reading its leading bytes as a big-endian binary
// fraction.
// Only the first 53 bits count, since that is all a
// float64 can hold.
func HashFraction(hash []byte) float64 {
	var buf [8]byte
	copy(buf[:], hash)
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / math.Exp2(53)
}

// HashSplit moves the samples whose HashFraction is below
// leftRatio to the front of h and returns both parts.
//
// A sample lands on the same side no matter which other
// samples are in h, so validation cases stay put as a
// dataset grows.
func HashSplit(h Hasher, leftRatio float64) (left, right SampleList) {
	if leftRatio >= 1 {
		return h, h.Slice(0, 0)
	}
	split := 0
	if leftRatio > 0 {
		for i := 0; i < h.Len(); i++ {
			if HashFraction(h.Hash(i)) < leftRatio {
				h.Swap(split, i)
				split++
			}
		}
	}
	return h.Slice(0, split), h.Slice(split, h.Len())
}
