package data

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

type Batch struct {
	Epoch   int
	Index   int
	Samples []types.Sample
}

// Loader yields fixed-size batches from a dataset. Train loaders shuffle per
// epoch and drop the trailing partial batch; sample fetching fans out over a
// bounded worker pool while batch order stays deterministic for a given seed.
type Loader struct {
	Dataset   Dataset
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Workers   int
	Seed      int64
}

func NewTrainLoader(ds Dataset, device config.DeviceConfig, seed int64) *Loader {
	return &Loader{
		Dataset:   ds,
		BatchSize: device.BatchSizePerGPU,
		Shuffle:   true,
		DropLast:  true,
		Workers:   device.WorkersPerGPU,
		Seed:      seed,
	}
}

func NewValLoader(ds Dataset, device config.DeviceConfig) *Loader {
	return &Loader{
		Dataset:   ds,
		BatchSize: device.BatchSizePerGPU,
		Workers:   device.WorkersPerGPU,
	}
}

// Steps returns the number of batches per epoch.
func (l *Loader) Steps() int {
	n := l.Dataset.Len() / l.BatchSize
	if !l.DropLast && l.Dataset.Len()%l.BatchSize != 0 {
		n++
	}
	return n
}

func (l *Loader) order(epoch int) []int {
	indices := make([]int, l.Dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	if l.Shuffle {
		rng := rand.New(rand.NewSource(l.Seed + int64(epoch)))
		rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}
	return indices
}

// ForEach iterates one epoch of batches, invoking fn in order.
func (l *Loader) ForEach(ctx context.Context, epoch int, fn func(Batch) error) error {
	indices := l.order(epoch)
	workers := l.Workers
	if workers <= 0 {
		workers = 1
	}
	batchidx := 0
	for start := 0; start < len(indices); start += l.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + l.BatchSize
		if end > len(indices) {
			if l.DropLast {
				break
			}
			end = len(indices)
		}

		samples := make([]types.Sample, end-start)
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)
		for i, idx := range indices[start:end] {
			i, idx := i, idx
			eg.Go(func() error {
				if err := egctx.Err(); err != nil {
					return err
				}
				sample, err := l.Dataset.Sample(idx)
				if err != nil {
					return err
				}
				samples[i] = sample
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		if err := fn(Batch{Epoch: epoch, Index: batchidx, Samples: samples}); err != nil {
			return err
		}
		batchidx++
	}
	return nil
}
