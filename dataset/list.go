package dataset

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/unixpickle/essentials"

	"github.com/teracamo/DeeplearningReconstruction/train"
)

// Image names inside a case directory, without extension.
const (
	LowName   = "low"
	HighName  = "high"
	TruthName = "truth"
)

var extensions = []string{".png", ".tif", ".tiff"}

// A Case locates the images of one slice.
type Case struct {
	Name  string
	Low   string
	High  string
	Truth string
}

// FindCase looks up the images of a case directory.
//
// The truth image is optional; if it is missing, Truth is
// empty.
func FindCase(dir string) (*Case, error) {
	res := &Case{Name: filepath.Base(dir)}
	for _, entry := range []struct {
		name     string
		dest     *string
		required bool
	}{
		{LowName, &res.Low, true},
		{HighName, &res.High, true},
		{TruthName, &res.Truth, false},
	} {
		*entry.dest = findImage(dir, entry.name)
		if *entry.dest == "" && entry.required {
			return nil, fmt.Errorf("case %s: no %s image", dir, entry.name)
		}
	}
	return res, nil
}

// Load reads a slice from disk.
func (c *Case) Load(w IntensityWindow) (*train.Sample, error) {
	low, h, width, err := ReadSlice(c.Low, w)
	if err != nil {
		return nil, err
	}
	high, h1, w1, err := ReadSlice(c.High, w)
	if err != nil {
		return nil, err
	}
	res := &train.Sample{Name: c.Name, Height: h, Width: width, Low: low, High: high}
	if h1 != h || w1 != width {
		return nil, fmt.Errorf("case %s: high image is %dx%d, low image is %dx%d",
			c.Name, h1, w1, h, width)
	}
	if c.Truth != "" {
		truth, h2, w2, err := ReadSlice(c.Truth, w)
		if err != nil {
			return nil, err
		}
		if h2 != h || w2 != width {
			return nil, fmt.Errorf("case %s: truth image is %dx%d, low image is %dx%d",
				c.Name, h2, w2, h, width)
		}
		res.Truth = truth
	}
	return res, nil
}

// A List is a lazily loaded list of cases.
// It implements train.PairList and train.Hasher.
type List struct {
	Cases  []*Case
	Window IntensityWindow
}

// LoadList finds every case directory directly inside a
// root directory, sorted by name.
//
// If requireTruth is set, cases without a ground truth
// image are skipped.
func LoadList(root string, w IntensityWindow, requireTruth bool) (*List, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, essentials.AddCtx("load dataset", err)
	}
	res := &List{Window: w}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := FindCase(filepath.Join(root, entry.Name()))
		if err != nil || (requireTruth && c.Truth == "") {
			continue
		}
		res.Cases = append(res.Cases, c)
	}
	sort.Slice(res.Cases, func(i, j int) bool {
		return res.Cases[i].Name < res.Cases[j].Name
	})
	return res, nil
}

// Len returns the number of cases.
func (l *List) Len() int {
	return len(l.Cases)
}

// Swap swaps two cases.
func (l *List) Swap(i, j int) {
	l.Cases[i], l.Cases[j] = l.Cases[j], l.Cases[i]
}

// Slice copies a sub-slice of the list.
func (l *List) Slice(i, j int) train.SampleList {
	return &List{
		Cases:  append([]*Case{}, l.Cases[i:j]...),
		Window: l.Window,
	}
}

// GetSample loads the images of a case.
func (l *List) GetSample(idx int) (*train.Sample, error) {
	return l.Cases[idx].Load(l.Window)
}

// Hash hashes the name of a case, so that splits do not
// depend on the dataset location.
func (l *List) Hash(idx int) []byte {
	sum := md5.Sum([]byte(l.Cases[idx].Name))
	return sum[:]
}

// Split divides the list into validation and training
// cases.
func (l *List) Split(validationRatio float64) (validation, training *List) {
	left, right := train.HashSplit(l, validationRatio)
	return left.(*List), right.(*List)
}

func findImage(dir, name string) string {
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
