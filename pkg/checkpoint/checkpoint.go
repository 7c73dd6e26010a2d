package checkpoint

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/go-logr/logr"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

// CurrentVersion is the bundle format version stamped into every checkpoint
// written by this toolchain. A checkpoint without a version marker is a
// legacy-format snapshot and must be converted before its weights are loaded.
const CurrentVersion = "1.0"

// WeightPrefix is prepended to raw weight keys during legacy conversion.
const WeightPrefix = "model."

type Meta struct {
	NanodetVersion string             `json:"nanodet_version,omitempty"`
	Arch           string             `json:"arch,omitempty"`
	ClassNames     []string           `json:"class_names,omitempty"`
	Epoch          int                `json:"epoch"`
	GlobalStep     int64              `json:"global_step"`
	BestMetric     *float64           `json:"best_metric,omitempty"`
	Tensors        []types.TensorInfo `json:"tensors,omitempty"`
}

type Checkpoint struct {
	Meta    Meta
	Weights map[string]types.Tensor
}

// IsLegacy reports whether the checkpoint predates the bundle format.
func (c *Checkpoint) IsLegacy() bool {
	return c.Meta.NanodetVersion == ""
}

// New assembles a versioned checkpoint from model weights and run state.
func New(arch string, classNames []string, epoch int, step int64, weights map[string]types.Tensor) *Checkpoint {
	ckpt := &Checkpoint{
		Meta: Meta{
			NanodetVersion: CurrentVersion,
			Arch:           arch,
			ClassNames:     classNames,
			Epoch:          epoch,
			GlobalStep:     step,
		},
		Weights: weights,
	}
	ckpt.refreshTensorInfos()
	return ckpt
}

func (c *Checkpoint) refreshTensorInfos() {
	infos := make([]types.TensorInfo, 0, len(c.Weights))
	for name, tensor := range c.Weights {
		infos = append(infos, types.TensorInfo{
			Name:  name,
			Shape: tensor.Shape,
			Size:  int64(len(tensor.Data)) * 4,
		})
	}
	slices.SortFunc(infos, func(a, b types.TensorInfo) bool { return a.Name < b.Name })
	c.Meta.Tensors = infos
}

// WeightReceiver is the slice of a model the loader needs: exportable and
// replaceable named tensors.
type WeightReceiver interface {
	Weights() map[string]types.Tensor
	SetWeights(weights map[string]types.Tensor) error
}

// LoadModelWeights copies checkpoint tensors into the model. Keys unknown to
// the model and shape mismatches are skipped with a warning rather than
// failing the run, matching the tolerant loading of the original toolchain.
func LoadModelWeights(log logr.Logger, model WeightReceiver, ckpt *Checkpoint) error {
	current := model.Weights()
	loaded := make(map[string]types.Tensor, len(current))
	for name, tensor := range current {
		src, ok := ckpt.Weights[name]
		if !ok {
			log.Info("checkpoint is missing weight, keeping initialization", "key", name)
			loaded[name] = tensor
			continue
		}
		// legacy snapshots store flat arrays with no shape information
		if len(src.Shape) == 1 && len(tensor.Shape) > 1 && src.NumElements() == tensor.NumElements() {
			src = types.Tensor{Shape: tensor.Shape, Data: src.Data}
		}
		if !types.SameShape(src, tensor) {
			log.Info("skipping weight with mismatched shape",
				"key", name, "checkpoint", src.Shape, "model", tensor.Shape)
			loaded[name] = tensor
			continue
		}
		loaded[name] = src
	}
	for name := range ckpt.Weights {
		if _, ok := current[name]; !ok {
			log.Info("checkpoint weight not used by model", "key", name)
		}
	}
	if err := model.SetWeights(loaded); err != nil {
		return fmt.Errorf("set model weights: %w", err)
	}
	return nil
}
