package data

import (
	"context"
	"reflect"
	"testing"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

type fakeDataset struct {
	n    int
	mode Mode
}

func (d *fakeDataset) Name() string         { return "fake" }
func (d *fakeDataset) Mode() Mode           { return d.mode }
func (d *fakeDataset) Len() int             { return d.n }
func (d *fakeDataset) ClassNames() []string { return []string{"person"} }
func (d *fakeDataset) Sample(i int) (types.Sample, error) {
	return types.Sample{ID: i, Width: 100, Height: 100}, nil
}

func collectIDs(t *testing.T, l *Loader, epoch int) [][]int {
	t.Helper()
	var batches [][]int
	err := l.ForEach(context.Background(), epoch, func(b Batch) error {
		ids := make([]int, 0, len(b.Samples))
		for _, s := range b.Samples {
			ids = append(ids, s.ID)
		}
		batches = append(batches, ids)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return batches
}

func TestLoaderBatching(t *testing.T) {
	device := config.DeviceConfig{BatchSizePerGPU: 4, WorkersPerGPU: 2}
	tests := []struct {
		name        string
		loader      *Loader
		wantBatches int
		wantLast    int // size of final batch
	}{
		{
			name:        "train drops trailing partial batch",
			loader:      NewTrainLoader(&fakeDataset{n: 10, mode: ModeTrain}, device, 1),
			wantBatches: 2,
			wantLast:    4,
		},
		{
			name:        "val keeps trailing partial batch",
			loader:      NewValLoader(&fakeDataset{n: 10, mode: ModeTest}, device),
			wantBatches: 3,
			wantLast:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := collectIDs(t, tt.loader, 0)
			if len(batches) != tt.wantBatches {
				t.Fatalf("got %d batches, want %d", len(batches), tt.wantBatches)
			}
			if got := len(batches[len(batches)-1]); got != tt.wantLast {
				t.Errorf("last batch size = %d, want %d", got, tt.wantLast)
			}
			if got := tt.loader.Steps(); got != tt.wantBatches {
				t.Errorf("Steps() = %d, want %d", got, tt.wantBatches)
			}
		})
	}
}

func TestLoaderShuffleDeterminism(t *testing.T) {
	device := config.DeviceConfig{BatchSizePerGPU: 4, WorkersPerGPU: 2}
	a := NewTrainLoader(&fakeDataset{n: 16, mode: ModeTrain}, device, 42)
	b := NewTrainLoader(&fakeDataset{n: 16, mode: ModeTrain}, device, 42)

	if !reflect.DeepEqual(collectIDs(t, a, 0), collectIDs(t, b, 0)) {
		t.Error("same seed and epoch must yield the same order")
	}
	if reflect.DeepEqual(collectIDs(t, a, 0), collectIDs(t, a, 1)) {
		t.Error("different epochs should reshuffle")
	}

	val := NewValLoader(&fakeDataset{n: 8, mode: ModeTest}, device)
	got := collectIDs(t, val, 0)
	want := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("val order = %v, want sequential %v", got, want)
	}
}

func TestLoaderContextCancel(t *testing.T) {
	device := config.DeviceConfig{BatchSizePerGPU: 2, WorkersPerGPU: 1}
	loader := NewValLoader(&fakeDataset{n: 10, mode: ModeTest}, device)

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := loader.ForEach(ctx, 0, func(b Batch) error {
		seen++
		cancel()
		return nil
	})
	if err == nil {
		t.Fatal("expected context error after cancel")
	}
	if seen != 1 {
		t.Errorf("saw %d batches after cancel, want 1", seen)
	}
}
