package evaluator

import (
	"context"
	"io"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/data"
	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

// Results holds validation metrics keyed by name. Primary names the metric
// used for best-checkpoint selection.
type Results struct {
	Primary string
	Metrics map[string]float64
}

func (r Results) PrimaryValue() float64 {
	return r.Metrics[r.Primary]
}

// Evaluator scores per-image detections against a validation dataset.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, detections map[int][]types.Detection) (Results, error)
	Render(w io.Writer, results Results)
}

type BuilderFunc func(cfg *config.Config, dataset data.Dataset) (Evaluator, error)

var builders = map[string]BuilderFunc{}

func RegisterEvaluator(name string, builder BuilderFunc) {
	builders[name] = builder
}

// Build constructs the evaluator named by the config.
func Build(cfg *config.Config, dataset data.Dataset) (Evaluator, error) {
	builder, ok := builders[cfg.Evaluator.Name]
	if !ok {
		return nil, errors.NewEvaluatorUnknownError(cfg.Evaluator.Name)
	}
	return builder(cfg, dataset)
}
