package train

import (
	"crypto/md5"
	"fmt"
)

// A Sample is one training slice: the low and high quality
// reconstructions and the ground truth they should match.
//
// Pixels are stored row-major.
// Truth may be nil for slices which are only denoised.
type Sample struct {
	Name   string
	Height int
	Width  int

	Low   []float64
	High  []float64
	Truth []float64
}

// Validate checks that every image has Height*Width
// pixels.
func (s *Sample) Validate() error {
	n := s.Height * s.Width
	if n == 0 {
		return fmt.Errorf("sample %s: empty image", s.Name)
	}
	images := [][]float64{s.Low, s.High}
	if s.Truth != nil {
		images = append(images, s.Truth)
	}
	for _, img := range images {
		if len(img) != n {
			return fmt.Errorf("sample %s: expected %d pixels but got %d", s.Name, n, len(img))
		}
	}
	return nil
}

// A PairList is a SampleList of slices which may be loaded
// lazily.
type PairList interface {
	SampleList

	GetSample(idx int) (*Sample, error)
}

// A SliceSampleList is a concrete PairList with
// predetermined samples.
type SliceSampleList []*Sample

// Len returns the number of samples.
func (s SliceSampleList) Len() int {
	return len(s)
}

// Swap swaps two samples.
func (s SliceSampleList) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Slice copies a sub-slice of the list.
func (s SliceSampleList) Slice(i, j int) SampleList {
	return append(SliceSampleList{}, s[i:j]...)
}

// GetSample returns the sample at the index.
func (s SliceSampleList) GetSample(idx int) (*Sample, error) {
	return s[idx], nil
}

// Hash hashes the name of a sample.
func (s SliceSampleList) Hash(idx int) []byte {
	sum := md5.Sum([]byte(s[idx].Name))
	return sum[:]
}
