package denoise

import (
	"fmt"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/layers"
	"github.com/teracamo/DeeplearningReconstruction/tileblock"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

// FormatVersion is the version of the saved model layout
// written by Serialize.
const FormatVersion = 1

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// DeserializeModel deserializes a Model.
//
// Data written with an unknown format version is rejected
// with ErrUnsupportedVersion.
func DeserializeModel(d []byte) (m *Model, err error) {
	defer essentials.AddCtxTo("deserialize Model", &err)
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	if len(slice) == 0 {
		return nil, reconnet.ErrUnsupportedVersion
	}
	if version, ok := slice[0].(serializer.Int); !ok || version != FormatVersion {
		return nil, essentials.AddCtx(fmt.Sprintf("version %v", slice[0]),
			reconnet.ErrUnsupportedVersion)
	}

	var version int
	var window []int
	var threshold float64
	var workers int
	var norm *layers.BatchNorm
	var reg *tileblock.Registry
	err = serializer.DeserializeAny(d, &version, &window, &threshold, &workers, &norm, &reg)
	if err != nil {
		return nil, err
	}
	if len(window) != 4 {
		return nil, fmt.Errorf("expected 4 window values but got %d", len(window))
	}
	tiler, err := tiling.NewTiler(tiling.Window{
		Height:   window[0],
		Width:    window[1],
		OverlapY: window[2],
		OverlapX: window[3],
	})
	if err != nil {
		return nil, err
	}
	return &Model{
		Tiler:     tiler,
		InputNorm: norm,
		Registry:  reg,
		Processor: tileblock.Processor{Threshold: threshold},
		Workers:   workers,
	}, nil
}

// LoadModel reads a model saved with Save.
func LoadModel(path string) (*Model, error) {
	var m *Model
	if err := serializer.LoadAny(path, &m); err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return m, nil
}

// Save writes the model to a file.
func (m *Model) Save(path string) error {
	if err := serializer.SaveAny(path, m); err != nil {
		return essentials.AddCtx("save model", err)
	}
	return nil
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/denoise.Model"
}

// Serialize serializes the model, including every tile
// block created so far.
func (m *Model) Serialize() ([]byte, error) {
	w := m.Tiler.Window()
	return serializer.SerializeAny(
		FormatVersion,
		[]int{w.Height, w.Width, w.OverlapY, w.OverlapX},
		m.Processor.Threshold,
		m.Workers,
		m.InputNorm,
		m.Registry,
	)
}
