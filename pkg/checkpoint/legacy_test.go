package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-logr/logr"

	"github.com/stuarteiffert/nanodet/pkg/types"
)

type tensorHolder struct {
	weights map[string]types.Tensor
}

func (h *tensorHolder) Weights() map[string]types.Tensor { return h.weights }
func (h *tensorHolder) SetWeights(w map[string]types.Tensor) error {
	h.weights = w
	return nil
}

func TestLoadFileLegacyJSON(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantLegacy bool
		wantKeys   []string
	}{
		{
			name:       "bare weight map",
			content:    `{"head.weight": [1, 2, 3], "head.bias": [0.5]}`,
			wantLegacy: true,
			wantKeys:   []string{"head.weight", "head.bias"},
		},
		{
			name:       "state_dict wrapper",
			content:    `{"epoch": 7, "state_dict": {"head.weight": [1, 2]}}`,
			wantLegacy: true,
			wantKeys:   []string{"head.weight"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "old.ckpt")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			ckpt, err := LoadFile(context.Background(), path)
			if err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if ckpt.IsLegacy() != tt.wantLegacy {
				t.Errorf("IsLegacy() = %v, want %v", ckpt.IsLegacy(), tt.wantLegacy)
			}
			for _, key := range tt.wantKeys {
				if _, ok := ckpt.Weights[key]; !ok {
					t.Errorf("missing weight %s", key)
				}
			}
		})
	}
}

func TestConvertPrefixesLegacyKeys(t *testing.T) {
	legacy := &Checkpoint{
		Meta: Meta{Epoch: 3},
		Weights: map[string]types.Tensor{
			"head.weight":     {Shape: []int{2}, Data: []float32{1, 2}},
			"model.head.bias": {Shape: []int{1}, Data: []float32{3}},
		},
	}
	converted := Convert(legacy)

	if converted.IsLegacy() {
		t.Fatal("converted checkpoint is still legacy")
	}
	if converted.Meta.NanodetVersion != CurrentVersion {
		t.Errorf("NanodetVersion = %q, want %q", converted.Meta.NanodetVersion, CurrentVersion)
	}
	if _, ok := converted.Weights["model.head.weight"]; !ok {
		t.Error("unprefixed key was not migrated under the model prefix")
	}
	if _, ok := converted.Weights["model.head.bias"]; !ok {
		t.Error("already-prefixed key was not preserved")
	}
	if converted.Meta.Epoch != 3 {
		t.Errorf("Epoch = %d, want 3", converted.Meta.Epoch)
	}
}

func TestConvertIsNoopForCurrentFormat(t *testing.T) {
	current := New("tiny", []string{"person"}, 2, 40, map[string]types.Tensor{
		"head.weight": {Shape: []int{2}, Data: []float32{1, 2}},
	})
	converted := Convert(current)
	if _, ok := converted.Weights["head.weight"]; !ok {
		t.Error("current-format keys must not be re-prefixed")
	}
	if len(converted.Weights) != len(current.Weights) {
		t.Errorf("weight count changed: %d != %d", len(converted.Weights), len(current.Weights))
	}
}

func TestLoadModelWeightsReshapesLegacyTensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.ckpt")
	content := `{"head.prototypes": [0.3, 0.3, 0.4, 0.4, 0.7, 0.7, 0.3, 0.3], "head.counts": [5, 5]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	ckpt, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	converted := Convert(ckpt)

	// legacy tensors come in flat, the model declares real shapes
	holder := &tensorHolder{weights: map[string]types.Tensor{
		"model.head.prototypes": {Shape: []int{2, 4}, Data: make([]float32, 8)},
		"model.head.counts":     {Shape: []int{2}, Data: make([]float32, 2)},
	}}
	if err := LoadModelWeights(logr.Discard(), holder, converted); err != nil {
		t.Fatalf("LoadModelWeights() error = %v", err)
	}

	protos := holder.weights["model.head.prototypes"]
	if !reflect.DeepEqual(protos.Shape, []int{2, 4}) {
		t.Errorf("prototypes shape = %v, want [2 4]", protos.Shape)
	}
	want := []float32{0.3, 0.3, 0.4, 0.4, 0.7, 0.7, 0.3, 0.3}
	if !reflect.DeepEqual(protos.Data, want) {
		t.Errorf("prototypes data = %v, want %v (converted weights not transferred)", protos.Data, want)
	}
	counts := holder.weights["model.head.counts"]
	if !reflect.DeepEqual(counts.Data, []float32{5, 5}) {
		t.Errorf("counts data = %v, want [5 5]", counts.Data)
	}
}

func TestLoadModelWeightsKeepsInitOnElementCountMismatch(t *testing.T) {
	ckpt := Convert(&Checkpoint{
		Weights: map[string]types.Tensor{
			"head.prototypes": {Shape: []int{6}, Data: make([]float32, 6)},
		},
	})
	init := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	holder := &tensorHolder{weights: map[string]types.Tensor{
		"model.head.prototypes": {Shape: []int{2, 4}, Data: append([]float32(nil), init...)},
	}}
	if err := LoadModelWeights(logr.Discard(), holder, ckpt); err != nil {
		t.Fatalf("LoadModelWeights() error = %v", err)
	}
	if got := holder.weights["model.head.prototypes"].Data; !reflect.DeepEqual(got, init) {
		t.Errorf("mismatched tensor replaced initialization: %v", got)
	}
}

func TestBundleRoundtripIsNotLegacy(t *testing.T) {
	ckpt := New("tiny", []string{"person", "car"}, 5, 120, map[string]types.Tensor{
		"model.head.prototypes": {Shape: []int{2, 4}, Data: []float32{0, 1, 2, 3, 4, 5, 6, 7}},
		"model.head.counts":     {Shape: []int{2}, Data: []float32{9, 9}},
	})
	path := filepath.Join(t.TempDir(), "model.ckpt")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Write(context.Background(), ckpt, out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out.Close()

	got, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got.IsLegacy() {
		t.Fatal("bundle roundtrip produced a legacy checkpoint")
	}
	if got.Meta.Epoch != 5 || got.Meta.GlobalStep != 120 {
		t.Errorf("meta = %+v, want epoch 5 step 120", got.Meta)
	}
	tensor, ok := got.Weights["model.head.prototypes"]
	if !ok {
		t.Fatal("missing prototypes tensor")
	}
	if len(tensor.Data) != 8 || tensor.Data[7] != 7 {
		t.Errorf("prototypes tensor = %+v", tensor)
	}
}
