package model

import (
	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

// Detector is a trainable detection model. Weights travel as named tensors so
// checkpoints stay independent of any particular architecture.
type Detector interface {
	Arch() string
	NumClasses() int

	// TrainStep consumes one batch and returns the batch loss.
	TrainStep(batch []types.Sample, lr float64) float64

	// Detect runs inference on a single image.
	Detect(sample types.Sample) []types.Detection

	Weights() map[string]types.Tensor
	SetWeights(weights map[string]types.Tensor) error
}

type BuilderFunc func(cfg config.ModelConfig) (Detector, error)

var archs = map[string]BuilderFunc{}

func RegisterArch(name string, builder BuilderFunc) {
	archs[name] = builder
}

// Build constructs the architecture named by the model config.
func Build(cfg config.ModelConfig) (Detector, error) {
	builder, ok := archs[cfg.Arch.Name]
	if !ok {
		return nil, errors.NewArchUnknownError(cfg.Arch.Name)
	}
	return builder(cfg)
}
