package data

import (
	"context"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

type Mode string

const (
	ModeTrain Mode = "train"
	ModeTest  Mode = "test"
)

// Dataset is a random-access collection of annotated images.
type Dataset interface {
	Name() string
	Mode() Mode
	Len() int
	Sample(i int) (types.Sample, error)
	ClassNames() []string
}

type BuilderFunc func(ctx context.Context, cfg config.DatasetConfig, mode Mode) (Dataset, error)

var builders = map[string]BuilderFunc{}

// RegisterDataset wires a dataset implementation under a config name.
func RegisterDataset(name string, builder BuilderFunc) {
	builders[name] = builder
}

// BuildDataset constructs the dataset named by the config section.
func BuildDataset(ctx context.Context, cfg config.DatasetConfig, mode Mode) (Dataset, error) {
	builder, ok := builders[cfg.Name]
	if !ok {
		return nil, errors.NewDatasetUnknownError(cfg.Name)
	}
	return builder(ctx, cfg, mode)
}
