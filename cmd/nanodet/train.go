package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/stuarteiffert/nanodet/pkg/checkpoint"
	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/data"
	"github.com/stuarteiffert/nanodet/pkg/evaluator"
	"github.com/stuarteiffert/nanodet/pkg/model"
	"github.com/stuarteiffert/nanodet/pkg/tracking"
	"github.com/stuarteiffert/nanodet/pkg/trainer"
	"github.com/stuarteiffert/nanodet/pkg/version"
)

type TrainOptions struct {
	LocalRank        int
	Seed             int64 // negative runs unseeded
	UseMLflow        bool
	MLflowURI        string
	MLflowRun        string
	MLflowExperiment string
}

func NewDefaultTrainOptions() *TrainOptions {
	return &TrainOptions{
		LocalRank:        -1,
		Seed:             -1,
		MLflowURI:        "file:./ml-runs",
		MLflowRun:        "default",
		MLflowExperiment: "default",
	}
}

func NewTrainCmd() *cobra.Command {
	options := NewDefaultTrainOptions()
	cmd := &cobra.Command{
		Use:     "train CONFIG",
		Short:   "train a detection model from a config file",
		Args:    cobra.ExactArgs(1),
		Version: version.Get().String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			stdlog.SetFlags(stdlog.LstdFlags | stdlog.Lshortfile)
			log := stdr.NewWithOptions(stdlog.Default(), stdr.Options{LogCaller: stdr.Error})
			if options.LocalRank > 0 {
				// only rank zero reports, as in distributed training
				log = logr.Discard()
			}
			ctx = logr.NewContext(ctx, log)

			return RunTrain(ctx, args[0], options)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&options.LocalRank, "local_rank", options.LocalRank, "node rank for distributed training")
	flags.Int64Var(&options.Seed, "seed", options.Seed, "random seed, negative for unseeded")
	flags.BoolVar(&options.UseMLflow, "use_mlflow", options.UseMLflow, "report metrics to mlflow")
	flags.StringVar(&options.MLflowURI, "mlflow_uri", options.MLflowURI, "mlflow tracking_uri")
	flags.StringVar(&options.MLflowRun, "mlflow_run", options.MLflowRun, "mlflow run name")
	flags.StringVar(&options.MLflowExperiment, "mlflow_experiment", options.MLflowExperiment, "mlflow experiment name")
	return cmd
}

// RunTrain wires config, data, model, evaluator, tracking and the trainer
// together. Config validation runs before anything is built so a broken
// config fails without touching datasets, stores or trackers.
func RunTrain(ctx context.Context, configPath string, options *TrainOptions) error {
	log := logr.FromContextOrDiscard(ctx)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	seed := options.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	} else {
		log.Info("Set random seed", "seed", seed)
	}

	log.Info("Setting up data...")
	trainDataset, err := data.BuildDataset(ctx, cfg.Data.Train, data.ModeTrain)
	if err != nil {
		return err
	}
	valDataset, err := data.BuildDataset(ctx, cfg.Data.Val, data.ModeTest)
	if err != nil {
		return err
	}
	eval, err := evaluator.Build(cfg, valDataset)
	if err != nil {
		return err
	}
	trainLoader := data.NewTrainLoader(trainDataset, cfg.Device, seed)
	valLoader := data.NewValLoader(valDataset, cfg.Device)

	log.Info("Creating model...")
	detector, err := model.Build(cfg.Model)
	if err != nil {
		return err
	}
	task := trainer.NewTask(cfg, detector, eval)

	store, err := checkpoint.NewStore(ctx, cfg.SaveDir)
	if err != nil {
		return err
	}

	if cfg.Schedule.LoadModel != "" {
		ckpt, err := checkpoint.LoadFile(ctx, cfg.Schedule.LoadModel)
		if err != nil {
			return err
		}
		if ckpt.IsLegacy() {
			log.Info("Warning! Old checkpoint format is deprecated. Convert it with: nanodet convert")
			ckpt = checkpoint.Convert(ckpt)
		}
		if err := checkpoint.LoadModelWeights(log, detector, ckpt); err != nil {
			return err
		}
		log.Info("Loaded model weight", "path", cfg.Schedule.LoadModel)
	}

	resumeFrom := ""
	if cfg.Schedule.Resume {
		resumeFrom = checkpoint.LastCheckpointName
	}

	tracker, err := NewTrackingLogger(ctx, options)
	if err != nil {
		return err
	}
	if err := tracker.LogParams(ctx, map[string]string{
		"arch":              cfg.Model.Arch.Name,
		"total_epochs":      fmt.Sprintf("%d", cfg.Schedule.TotalEpochs),
		"lr":                fmt.Sprintf("%g", cfg.Schedule.Optimizer.LR),
		"batchsize_per_gpu": fmt.Sprintf("%d", cfg.Device.BatchSizePerGPU),
	}); err != nil {
		return err
	}

	// the original enables the progress bar only when mlflow is on
	var refresh time.Duration
	if options.UseMLflow {
		refresh = 100 * time.Millisecond
	}

	trainerOptions := &trainer.Options{
		MaxEpochs:       cfg.Schedule.TotalEpochs,
		ValInterval:     cfg.Schedule.ValIntervals,
		LogInterval:     cfg.Log.Interval,
		GPUIDs:          cfg.Device.GPUIDs,
		LocalRank:       options.LocalRank,
		ResumeFrom:      resumeFrom,
		Tracker:         tracker,
		ProgressRefresh: refresh,
		Out:             os.Stdout,
	}

	if err := trainer.New(trainerOptions, store).Fit(ctx, task, trainLoader, valLoader); err != nil {
		_ = tracker.Close(context.Background())
		return err
	}
	return tracker.Close(ctx)
}

// NewTrackingLogger returns the noop logger unless mlflow reporting was
// requested. The run-name tag is resolved before the logger is constructed.
func NewTrackingLogger(ctx context.Context, options *TrainOptions) (tracking.Logger, error) {
	if !options.UseMLflow {
		return tracking.Noop{}, nil
	}
	mlopts := tracking.NewDefaultMLflowOptions()
	mlopts.TrackingURI = options.MLflowURI
	mlopts.Experiment = options.MLflowExperiment
	mlopts.RunName = options.MLflowRun
	mlopts.Token = os.Getenv("MLFLOW_TRACKING_TOKEN")
	mlopts.Tags = map[string]string{tracking.TagRunName: options.MLflowRun}
	return tracking.NewLogger(ctx, mlopts)
}
