package model

import (
	"fmt"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

const (
	TinyArchName = "tiny"

	prototypeKey = "model.head.prototypes"
	countKey     = "model.head.counts"
)

func init() {
	RegisterArch(TinyArchName, NewTiny)
}

// Tiny is a deliberately small reference detector: it learns one box
// prototype per class (center and size, normalized to the image) by gradient
// steps toward observed boxes, and predicts those prototypes back. It exists
// so the training pipeline and its tests run end to end without a
// heavyweight backbone.
type Tiny struct {
	numClasses int
	prototypes []float32 // numClasses x 4: cx, cy, w, h
	counts     []float32 // per class observation weight
}

func NewTiny(cfg config.ModelConfig) (Detector, error) {
	n := cfg.Arch.Head.NumClasses
	if n <= 0 {
		return nil, fmt.Errorf("arch %s: head.num_classes must be positive, got %d", TinyArchName, n)
	}
	return &Tiny{
		numClasses: n,
		prototypes: make([]float32, n*4),
		counts:     make([]float32, n),
	}, nil
}

func (t *Tiny) Arch() string { return TinyArchName }

func (t *Tiny) NumClasses() int { return t.numClasses }

func normalizeObject(obj types.Object, sample types.Sample) [4]float32 {
	w, h := float64(sample.Width), float64(sample.Height)
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	return [4]float32{
		float32((obj.Box.X1 + obj.Box.X2) / 2 / w),
		float32((obj.Box.Y1 + obj.Box.Y2) / 2 / h),
		float32(obj.Box.Width() / w),
		float32(obj.Box.Height() / h),
	}
}

func (t *Tiny) TrainStep(batch []types.Sample, lr float64) float64 {
	var loss float64
	var n int
	for _, sample := range batch {
		for _, obj := range sample.Objects {
			if obj.Label < 0 || obj.Label >= t.numClasses {
				continue
			}
			target := normalizeObject(obj, sample)
			base := obj.Label * 4
			for k := 0; k < 4; k++ {
				diff := float64(target[k] - t.prototypes[base+k])
				loss += diff * diff
				t.prototypes[base+k] += float32(lr * diff)
			}
			t.counts[obj.Label]++
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return loss / float64(n)
}

func (t *Tiny) Detect(sample types.Sample) []types.Detection {
	w, h := float64(sample.Width), float64(sample.Height)
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	var out []types.Detection
	for c := 0; c < t.numClasses; c++ {
		if t.counts[c] == 0 {
			continue
		}
		cx := float64(t.prototypes[c*4]) * w
		cy := float64(t.prototypes[c*4+1]) * h
		bw := float64(t.prototypes[c*4+2]) * w
		bh := float64(t.prototypes[c*4+3]) * h
		out = append(out, types.Detection{
			Box: types.Box{
				X1: cx - bw/2,
				Y1: cy - bh/2,
				X2: cx + bw/2,
				Y2: cy + bh/2,
			},
			Label: c,
			Score: float64(t.counts[c]) / float64(t.counts[c]+1),
		})
	}
	return out
}

func (t *Tiny) Weights() map[string]types.Tensor {
	return map[string]types.Tensor{
		prototypeKey: {Shape: []int{t.numClasses, 4}, Data: append([]float32(nil), t.prototypes...)},
		countKey:     {Shape: []int{t.numClasses}, Data: append([]float32(nil), t.counts...)},
	}
}

func (t *Tiny) SetWeights(weights map[string]types.Tensor) error {
	protos, ok := weights[prototypeKey]
	if !ok {
		return fmt.Errorf("missing weight %s", prototypeKey)
	}
	counts, ok := weights[countKey]
	if !ok {
		return fmt.Errorf("missing weight %s", countKey)
	}
	if len(protos.Data) != t.numClasses*4 || len(counts.Data) != t.numClasses {
		return fmt.Errorf("weight sizes do not match %d classes", t.numClasses)
	}
	t.prototypes = append([]float32(nil), protos.Data...)
	t.counts = append([]float32(nil), counts.Data...)
	return nil
}
