package trainer

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/stuarteiffert/nanodet/pkg/checkpoint"
	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/data"
	"github.com/stuarteiffert/nanodet/pkg/evaluator"
	"github.com/stuarteiffert/nanodet/pkg/model"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

// Task binds a model, its evaluator and the schedule into the unit the
// trainer drives.
type Task struct {
	Config    *config.Config
	Model     model.Detector
	Evaluator evaluator.Evaluator
}

func NewTask(cfg *config.Config, detector model.Detector, eval evaluator.Evaluator) *Task {
	return &Task{Config: cfg, Model: detector, Evaluator: eval}
}

// TrainingStep consumes one batch and returns its loss.
func (t *Task) TrainingStep(batch data.Batch) float64 {
	return t.Model.TrainStep(batch.Samples, t.Config.Schedule.Optimizer.LR)
}

// Validate runs inference over the validation loader and scores the results.
func (t *Task) Validate(ctx context.Context, loader *data.Loader) (evaluator.Results, error) {
	detections := map[int][]types.Detection{}
	err := loader.ForEach(ctx, 0, func(batch data.Batch) error {
		for _, sample := range batch.Samples {
			detections[sample.ID] = t.Model.Detect(sample)
		}
		return nil
	})
	if err != nil {
		return evaluator.Results{}, err
	}
	return t.Evaluator.Evaluate(ctx, detections)
}

// Checkpoint snapshots the current model and run state. best is nil until a
// validation pass has produced a metric.
func (t *Task) Checkpoint(epoch int, step int64, best *float64) *checkpoint.Checkpoint {
	ckpt := checkpoint.New(t.Model.Arch(), t.Config.ClassNames, epoch, step, t.Model.Weights())
	ckpt.Meta.BestMetric = best
	return ckpt
}

// Restore loads weights and run state from a checkpoint, returning the epoch
// to continue from and the restored global step.
func (t *Task) Restore(log logr.Logger, ckpt *checkpoint.Checkpoint) (int, int64, error) {
	if err := checkpoint.LoadModelWeights(log, t.Model, ckpt); err != nil {
		return 0, 0, err
	}
	return ckpt.Meta.Epoch, ckpt.Meta.GlobalStep, nil
}
