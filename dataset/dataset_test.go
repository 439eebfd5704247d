package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func rampSlice(h, w int, offset float64) []float64 {
	res := make([]float64, h*w)
	for i := range res {
		res[i] = offset + float64(i)*10
	}
	return res
}

func writeCase(t *testing.T, root, name, ext string, h, w int, truth bool) {
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	names := []string{LowName, HighName}
	if truth {
		names = append(names, TruthName)
	}
	for i, n := range names {
		pixels := rampSlice(h, w, -500+float64(i))
		require.NoError(t, WriteSlice(filepath.Join(dir, n+ext), pixels, h, w, DefaultWindow))
	}
}

func TestIntensityWindow(t *testing.T) {
	w := IntensityWindow{Min: -1000, Max: 1000}
	require.NoError(t, w.Validate())
	require.Equal(t, -1000.0, w.Intensity(0))
	require.Equal(t, 1000.0, w.Intensity(0xffff))
	require.Equal(t, uint16(0), w.Pixel(-5000))
	require.Equal(t, uint16(0xffff), w.Pixel(5000))
	for _, x := range []float64{-999, -1, 0, 250.5, 999} {
		require.InDelta(t, x, w.Intensity(w.Pixel(x)), w.Range()/0xffff)
	}
	require.Error(t, IntensityWindow{Min: 1, Max: 1}.Validate())
}

func TestSliceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pixels := rampSlice(5, 7, -300)
	for _, ext := range []string{".png", ".tif"} {
		path := filepath.Join(dir, "slice"+ext)
		require.NoError(t, WriteSlice(path, pixels, 5, 7, DefaultWindow))
		actual, h, w, err := ReadSlice(path, DefaultWindow)
		require.NoError(t, err)
		require.Equal(t, 5, h)
		require.Equal(t, 7, w)
		require.InDeltaSlice(t, pixels, actual, DefaultWindow.Range()/0xffff)
	}

	require.Error(t, WriteSlice(filepath.Join(dir, "slice.bmp"), pixels, 5, 7, DefaultWindow))
	require.Error(t, WriteSlice(filepath.Join(dir, "slice.png"), pixels, 5, 6, DefaultWindow))
	_, _, _, err := ReadSlice(filepath.Join(dir, "missing.png"), DefaultWindow)
	require.Error(t, err)
}

func TestLoadList(t *testing.T) {
	root := t.TempDir()
	writeCase(t, root, "case2", ".png", 6, 4, true)
	writeCase(t, root, "case1", ".tiff", 6, 4, true)
	writeCase(t, root, "case3", ".png", 6, 4, false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	list, err := LoadList(root, DefaultWindow, true)
	require.NoError(t, err)
	require.Equal(t, 2, list.Len())
	require.Equal(t, "case1", list.Cases[0].Name)
	require.Equal(t, "case2", list.Cases[1].Name)

	sample, err := list.GetSample(0)
	require.NoError(t, err)
	require.NoError(t, sample.Validate())
	require.Equal(t, 6, sample.Height)
	require.Equal(t, 4, sample.Width)
	require.InDeltaSlice(t, rampSlice(6, 4, -498), sample.Truth, DefaultWindow.Range()/0xffff)

	all, err := LoadList(root, DefaultWindow, false)
	require.NoError(t, err)
	require.Equal(t, 3, all.Len())
	unlabeled, err := all.GetSample(2)
	require.NoError(t, err)
	require.Nil(t, unlabeled.Truth)
	require.NoError(t, unlabeled.Validate())

	_, err = LoadList(root, IntensityWindow{}, false)
	require.Error(t, err)
}

func TestCaseSizeMismatch(t *testing.T) {
	root := t.TempDir()
	writeCase(t, root, "case", ".png", 6, 4, false)
	dir := filepath.Join(root, "case")
	require.NoError(t, WriteSlice(filepath.Join(dir, "truth.png"), rampSlice(4, 4, 0), 4, 4,
		DefaultWindow))
	c, err := FindCase(dir)
	require.NoError(t, err)
	_, err = c.Load(DefaultWindow)
	require.Error(t, err)

	_, err = FindCase(t.TempDir())
	require.Error(t, err)
}

func TestListSplit(t *testing.T) {
	list := &List{Window: DefaultWindow}
	for i := 0; i < 200; i++ {
		list.Cases = append(list.Cases, &Case{Name: fmt.Sprintf("patient%03d", i)})
	}
	validation, training := list.Split(0.25)
	require.Equal(t, 200, validation.Len()+training.Len())
	require.InDelta(t, 50, validation.Len(), 25)

	names := map[string]bool{}
	for _, c := range validation.Cases {
		names[c.Name] = true
	}
	for _, c := range training.Cases {
		require.False(t, names[c.Name], "%s is in both partitions", c.Name)
	}
}
