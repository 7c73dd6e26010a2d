package main

import (
	"bytes"
	"context"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/tracking"
)

const trainAnnotations = `{
	"images": [
		{"id": 1, "file_name": "a.jpg", "width": 100, "height": 100},
		{"id": 2, "file_name": "b.jpg", "width": 100, "height": 100},
		{"id": 3, "file_name": "c.jpg", "width": 100, "height": 100},
		{"id": 4, "file_name": "d.jpg", "width": 100, "height": 100}
	],
	"annotations": [
		{"image_id": 1, "category_id": 1, "bbox": [10, 10, 40, 40], "iscrowd": 0},
		{"image_id": 2, "category_id": 1, "bbox": [12, 12, 40, 40], "iscrowd": 0},
		{"image_id": 3, "category_id": 2, "bbox": [60, 60, 30, 30], "iscrowd": 0},
		{"image_id": 4, "category_id": 2, "bbox": [58, 58, 30, 30], "iscrowd": 0}
	],
	"categories": [
		{"id": 1, "name": "person"},
		{"id": 2, "name": "car"}
	]
}`

func writeTrainFixture(t *testing.T) (configPath string, saveDir string) {
	t.Helper()
	dir := t.TempDir()
	annPath := filepath.Join(dir, "instances.json")
	if err := os.WriteFile(annPath, []byte(trainAnnotations), 0o644); err != nil {
		t.Fatal(err)
	}
	saveDir = filepath.Join(dir, "workspace")
	yaml := fmt.Sprintf(`
save_dir: %s
model:
  arch:
    name: tiny
    head:
      name: simple
      num_classes: 2
class_names: [person, car]
data:
  train:
    name: coco
    ann_path: %s
  val:
    name: coco
    ann_path: %s
device:
  batchsize_per_gpu: 2
  workers_per_gpu: 1
schedule:
  total_epochs: 2
  val_intervals: 1
log:
  interval: 1
`, saveDir, annPath, annPath)
	configPath = filepath.Join(dir, "config.yml")
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, saveDir
}

func TestRunTrainEndToEnd(t *testing.T) {
	configPath, saveDir := writeTrainFixture(t)

	if err := RunTrain(context.Background(), configPath, NewDefaultTrainOptions()); err != nil {
		t.Fatalf("RunTrain() error = %v", err)
	}
	for _, name := range []string{"model_last.ckpt", "model_best.ckpt"} {
		if _, err := os.Stat(filepath.Join(saveDir, name)); err != nil {
			t.Errorf("missing %s after training: %v", name, err)
		}
	}
}

func TestRunTrainLoadsLegacyModelWeights(t *testing.T) {
	dir := t.TempDir()
	annPath := filepath.Join(dir, "instances.json")
	if err := os.WriteFile(annPath, []byte(trainAnnotations), 0o644); err != nil {
		t.Fatal(err)
	}
	// the old flat-JSON snapshot format: unprefixed keys, no shapes
	legacyPath := filepath.Join(dir, "old_model.ckpt")
	legacy := `{"head.prototypes": [0.3, 0.3, 0.4, 0.4, 0.73, 0.73, 0.3, 0.3], "head.counts": [5, 5]}`
	if err := os.WriteFile(legacyPath, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	saveDir := filepath.Join(dir, "workspace")
	yaml := fmt.Sprintf(`
save_dir: %s
model:
  arch:
    name: tiny
    head:
      name: simple
      num_classes: 2
class_names: [person, car]
data:
  train:
    name: coco
    ann_path: %s
  val:
    name: coco
    ann_path: %s
device:
  batchsize_per_gpu: 2
  workers_per_gpu: 1
schedule:
  total_epochs: 1
  val_intervals: 1
  load_model: %s
log:
  interval: 1
`, saveDir, annPath, annPath, legacyPath)
	configPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	logbuf := &bytes.Buffer{}
	ctx := logr.NewContext(context.Background(), stdr.New(stdlog.New(logbuf, "", 0)))

	if err := RunTrain(ctx, configPath, NewDefaultTrainOptions()); err != nil {
		t.Fatalf("RunTrain() error = %v", err)
	}

	logged := logbuf.String()
	if !strings.Contains(logged, "Old checkpoint format is deprecated") {
		t.Error("loading a legacy checkpoint did not log the deprecation warning")
	}
	if strings.Contains(logged, "skipping weight with mismatched shape") {
		t.Errorf("legacy weights were not transferred into the model:\n%s", logged)
	}
	if _, err := os.Stat(filepath.Join(saveDir, "model_last.ckpt")); err != nil {
		t.Errorf("training did not proceed after legacy conversion: %v", err)
	}
}

func TestRunTrainFailsBeforeAllocationOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	saveDir := filepath.Join(dir, "workspace")
	yaml := fmt.Sprintf(`
save_dir: %s
model:
  arch:
    name: tiny
    head:
      num_classes: 3
class_names: [person, car]
`, saveDir)
	configPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	err := RunTrain(context.Background(), configPath, NewDefaultTrainOptions())
	if !errors.IsErrCode(err, errors.ErrCodeClassCount) {
		t.Fatalf("RunTrain() error = %v, want %s", err, errors.ErrCodeClassCount)
	}
	// validation failed, so nothing may have been set up
	if _, err := os.Stat(saveDir); !os.IsNotExist(err) {
		t.Errorf("save dir %s was created despite invalid config", saveDir)
	}
}

func TestNewTrackingLogger(t *testing.T) {
	ctx := context.Background()

	options := NewDefaultTrainOptions()
	logger, err := NewTrackingLogger(ctx, options)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(tracking.Noop); !ok {
		t.Fatalf("logger without --use_mlflow = %T, want tracking.Noop", logger)
	}

	dir := t.TempDir()
	options.UseMLflow = true
	options.MLflowURI = "file:" + dir
	options.MLflowRun = "my-run"
	options.MLflowExperiment = "exp"

	logger, err = NewTrackingLogger(ctx, options)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(tracking.Noop); ok {
		t.Fatal("--use_mlflow produced the noop logger")
	}
	if err := logger.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// the run name names the sink file via the run-name tag
	if _, err := os.Stat(filepath.Join(dir, "exp", "my-run.jsonl")); err != nil {
		t.Errorf("missing run file for my-run: %v", err)
	}
}

func TestTrainCmdFlagDefaults(t *testing.T) {
	cmd := NewTrainCmd()
	tests := []struct {
		flag string
		want string
	}{
		{"local_rank", "-1"},
		{"seed", "-1"},
		{"use_mlflow", "false"},
		{"mlflow_uri", "file:./ml-runs"},
		{"mlflow_run", "default"},
		{"mlflow_experiment", "default"},
	}
	for _, tt := range tests {
		f := cmd.Flags().Lookup(tt.flag)
		if f == nil {
			t.Errorf("flag %s is not registered", tt.flag)
			continue
		}
		if f.DefValue != tt.want {
			t.Errorf("flag %s default = %q, want %q", tt.flag, f.DefValue, tt.want)
		}
	}
}
