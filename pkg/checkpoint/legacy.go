package checkpoint

import (
	"encoding/json"
	"strings"

	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

// legacyCheckpoint is the old snapshot format: a flat JSON weight map with an
// optional state_dict wrapper and no version marker or shape information.
type legacyCheckpoint struct {
	StateDict map[string][]float32 `json:"state_dict"`
	Epoch     int                  `json:"epoch,omitempty"`
	Arch      string               `json:"arch,omitempty"`
}

func readLegacyJSON(raw []byte) (*Checkpoint, error) {
	legacy := legacyCheckpoint{}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, errors.NewCheckpointInvalidError(err)
	}
	if legacy.StateDict == nil {
		// oldest flavor: the file itself is the weight map
		if err := json.Unmarshal(raw, &legacy.StateDict); err != nil {
			return nil, errors.NewCheckpointInvalidError(err)
		}
	}
	weights := make(map[string]types.Tensor, len(legacy.StateDict))
	for name, data := range legacy.StateDict {
		weights[name] = types.Tensor{Shape: []int{len(data)}, Data: data}
	}
	ckpt := &Checkpoint{
		Meta:    Meta{Epoch: legacy.Epoch, Arch: legacy.Arch},
		Weights: weights,
	}
	ckpt.refreshTensorInfos()
	return ckpt, nil
}

// Convert migrates a legacy checkpoint to the current bundle format: weight
// keys gain the model prefix and the version marker is stamped. Converting an
// already-current checkpoint is a no-op copy.
func Convert(ckpt *Checkpoint) *Checkpoint {
	weights := make(map[string]types.Tensor, len(ckpt.Weights))
	for name, tensor := range ckpt.Weights {
		if !ckpt.IsLegacy() || strings.HasPrefix(name, WeightPrefix) {
			weights[name] = tensor
			continue
		}
		weights[WeightPrefix+name] = tensor
	}
	out := &Checkpoint{Meta: ckpt.Meta, Weights: weights}
	out.Meta.NanodetVersion = CurrentVersion
	out.refreshTensorInfos()
	return out
}
