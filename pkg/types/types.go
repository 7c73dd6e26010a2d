package types

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes, 0 when disjoint.
func (b Box) IoU(other Box) float64 {
	ix1, iy1 := maxf(b.X1, other.X1), maxf(b.Y1, other.Y1)
	ix2, iy2 := minf(b.X2, other.X2), minf(b.Y2, other.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Object is an annotated ground-truth instance.
type Object struct {
	Box   Box `json:"box"`
	Label int `json:"label"`
}

// Detection is a predicted instance with a confidence score.
type Detection struct {
	Box   Box     `json:"box"`
	Label int     `json:"label"`
	Score float64 `json:"score"`
}

// Sample is one image with its annotations.
type Sample struct {
	ID        int      `json:"id"`
	ImagePath string   `json:"imagePath"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Objects   []Object `json:"objects"`
}

// Tensor is a named weight blob: a dense float32 array plus its shape.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"-"`
}

func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	if got, want := len(t.Data), t.NumElements(); got != want {
		return fmt.Errorf("tensor data length %d does not match shape %v (%d elements)", got, t.Shape, want)
	}
	return nil
}

func SameShape(a, b Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// TensorInfo describes a tensor stored inside a checkpoint bundle.
type TensorInfo struct {
	Name   string        `json:"name"`
	Shape  []int         `json:"shape"`
	Size   int64         `json:"size,omitempty"`
	Digest digest.Digest `json:"digest,omitempty"`
}
