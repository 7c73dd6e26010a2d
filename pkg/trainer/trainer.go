package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/stuarteiffert/nanodet/pkg/checkpoint"
	"github.com/stuarteiffert/nanodet/pkg/data"
	"github.com/stuarteiffert/nanodet/pkg/tracking"
	"github.com/stuarteiffert/nanodet/pkg/trainer/progress"
)

type Options struct {
	MaxEpochs       int
	ValInterval     int   // validate every n epochs, 0 disables
	LogInterval     int   // log every n global steps
	GPUIDs          []int // recorded for the run, device placement is external
	LocalRank       int   // rank > 0 skips rendering and checkpoint writes
	ResumeFrom      string
	Tracker         tracking.Logger
	ProgressRefresh time.Duration // 0 disables the bars
	Out             io.Writer
}

func NewDefaultOptions() *Options {
	return &Options{
		MaxEpochs:   10,
		ValInterval: 1,
		LogInterval: 10,
		LocalRank:   -1,
		Out:         os.Stdout,
	}
}

// Trainer drives the generic fit loop over a task.
type Trainer struct {
	Options *Options
	Store   *checkpoint.Store
}

func New(options *Options, store *checkpoint.Store) *Trainer {
	if options.Tracker == nil {
		options.Tracker = tracking.Noop{}
	}
	if options.Out == nil {
		options.Out = os.Stdout
	}
	return &Trainer{Options: options, Store: store}
}

func (t *Trainer) rankZero() bool {
	return t.Options.LocalRank <= 0
}

// Fit runs the training loop: epochs of train batches, periodic validation,
// model_last.ckpt after every epoch and model_best.ckpt on improvement.
func (t *Trainer) Fit(ctx context.Context, task *Task, train *data.Loader, val *data.Loader) error {
	log := logr.FromContextOrDiscard(ctx)
	opts := t.Options

	startEpoch := 0
	var globalStep int64
	var best *float64

	if opts.ResumeFrom != "" {
		ckpt, err := t.Store.Get(ctx, opts.ResumeFrom)
		if err != nil {
			return err
		}
		if ckpt.IsLegacy() {
			log.Info("Warning! Old checkpoint format is deprecated, converting before resume")
			ckpt = checkpoint.Convert(ckpt)
		}
		startEpoch, globalStep, err = task.Restore(log, ckpt)
		if err != nil {
			return err
		}
		if ckpt.Meta.BestMetric != nil {
			best = ckpt.Meta.BestMetric
		}
		log.Info("resumed", "checkpoint", opts.ResumeFrom, "epoch", startEpoch, "step", globalStep)
	}

	mb := progress.NewMultiBar(opts.Out, 40, opts.ProgressRefresh)
	barctx, cancelbars := context.WithCancel(ctx)
	defer cancelbars()
	go mb.Run(barctx)

	steps := int64(train.Steps())
	for epoch := startEpoch; epoch < opts.MaxEpochs; epoch++ {
		bar := mb.NewBar(fmt.Sprintf("Epoch %d/%d", epoch+1, opts.MaxEpochs), "training")

		var running float64
		var nbatches int
		err := train.ForEach(ctx, epoch, func(batch data.Batch) error {
			loss := task.TrainingStep(batch)
			globalStep++
			running += loss
			nbatches++
			bar.SetProgress(int64(batch.Index+1), steps)

			if opts.LogInterval > 0 && globalStep%int64(opts.LogInterval) == 0 {
				log.Info("train", "epoch", epoch+1, "step", globalStep, "loss", loss)
				if err := opts.Tracker.LogMetrics(ctx, globalStep, map[string]float64{"train_loss": loss}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if nbatches > 0 {
			log.Info("epoch complete", "epoch", epoch+1, "mean_loss", running/float64(nbatches))
		}
		bar.Finish("done")

		if t.rankZero() {
			if _, err := t.Store.Put(ctx, checkpoint.LastCheckpointName, task.Checkpoint(epoch+1, globalStep, best)); err != nil {
				return err
			}
		}

		if opts.ValInterval <= 0 || (epoch+1)%opts.ValInterval != 0 {
			continue
		}
		results, err := task.Validate(ctx, val)
		if err != nil {
			return err
		}
		log.Info("validation", "epoch", epoch+1, results.Primary, results.PrimaryValue())
		if err := opts.Tracker.LogMetrics(ctx, globalStep, results.Metrics); err != nil {
			return err
		}
		if t.rankZero() {
			task.Evaluator.Render(opts.Out, results)
			if best == nil || results.PrimaryValue() > *best {
				value := results.PrimaryValue()
				best = &value
				if _, err := t.Store.Put(ctx, checkpoint.BestCheckpointName, task.Checkpoint(epoch+1, globalStep, best)); err != nil {
					return err
				}
				log.Info("new best", results.Primary, value)
			}
		}
	}
	return nil
}
