package reconnet

import (
	"fmt"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
}

// An Activation is the element-wise nonlinearity placed
// after the normalized convolution of a tile block.
type Activation int

const (
	Identity Activation = iota
	ReLU
	Tanh
	Sigmoid
)

var activationNames = map[Activation]string{
	Identity: "identity",
	ReLU:     "relu",
	Tanh:     "tanh",
	Sigmoid:  "sigmoid",
}

// ParseActivation looks up an activation by its
// case-insensitive name, such as "relu".
func ParseActivation(name string) (Activation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range activationNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown activation: %q", name)
}

// DeserializeActivation decodes an Activation stored by
// name.
func DeserializeActivation(d []byte) (Activation, error) {
	a, err := ParseActivation(string(d))
	if err != nil {
		return 0, fmt.Errorf("deserialize Activation: %s", err)
	}
	return a, nil
}

// String returns the name understood by ParseActivation.
func (a Activation) String() string {
	if n, ok := activationNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// Apply applies the nonlinearity to every component.
// The batch size is irrelevant.
func (a Activation) Apply(in anydiff.Res, n int) anydiff.Res {
	switch a {
	case Identity:
		return in
	case ReLU:
		return anydiff.ClipPos(in)
	case Tanh:
		return anydiff.Tanh(in)
	case Sigmoid:
		return anydiff.Sigmoid(in)
	}
	panic("unknown activation: " + a.String())
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction.Activation"
}

// Serialize stores the activation by name.
func (a Activation) Serialize() ([]byte, error) {
	if _, ok := activationNames[a]; !ok {
		return nil, fmt.Errorf("serialize Activation: %s", a)
	}
	return []byte(a.String()), nil
}
