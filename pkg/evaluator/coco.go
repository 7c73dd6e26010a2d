package evaluator

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/exp/slices"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/data"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

const iouThreshold = 0.5

func init() {
	RegisterEvaluator("coco_detection", NewCocoDetectionEvaluator)
}

// CocoDetectionEvaluator computes per-class average precision at IoU 0.5 by
// greedy matching of score-ranked detections against ground truth.
type CocoDetectionEvaluator struct {
	dataset data.Dataset
	classes []string
}

func NewCocoDetectionEvaluator(cfg *config.Config, dataset data.Dataset) (Evaluator, error) {
	return &CocoDetectionEvaluator{dataset: dataset, classes: cfg.ClassNames}, nil
}

func (e *CocoDetectionEvaluator) Name() string { return "coco_detection" }

type rankedDetection struct {
	imageID int
	det     types.Detection
}

func (e *CocoDetectionEvaluator) Evaluate(ctx context.Context, detections map[int][]types.Detection) (Results, error) {
	// ground truth per class, per image
	truth := make(map[int]map[int][]types.Box, len(e.classes))
	total := make(map[int]int, len(e.classes))
	for i := 0; i < e.dataset.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return Results{}, err
		}
		sample, err := e.dataset.Sample(i)
		if err != nil {
			return Results{}, err
		}
		for _, obj := range sample.Objects {
			if truth[obj.Label] == nil {
				truth[obj.Label] = map[int][]types.Box{}
			}
			truth[obj.Label][sample.ID] = append(truth[obj.Label][sample.ID], obj.Box)
			total[obj.Label]++
		}
	}

	results := Results{Primary: "mAP", Metrics: map[string]float64{}}
	var sum float64
	var counted int
	for label, class := range e.classes {
		if total[label] == 0 {
			continue
		}
		ap := averagePrecision(collectClass(detections, label), truth[label], total[label])
		results.Metrics["AP_"+class] = ap
		sum += ap
		counted++
	}
	if counted > 0 {
		results.Metrics["mAP"] = sum / float64(counted)
	} else {
		results.Metrics["mAP"] = 0
	}
	return results, nil
}

func collectClass(detections map[int][]types.Detection, label int) []rankedDetection {
	var ranked []rankedDetection
	for imageID, dets := range detections {
		for _, det := range dets {
			if det.Label == label {
				ranked = append(ranked, rankedDetection{imageID: imageID, det: det})
			}
		}
	}
	slices.SortFunc(ranked, func(a, b rankedDetection) bool { return a.det.Score > b.det.Score })
	return ranked
}

func averagePrecision(ranked []rankedDetection, truth map[int][]types.Box, totalTruth int) float64 {
	matched := map[int][]bool{}
	tps := make([]bool, len(ranked))
	for i, r := range ranked {
		boxes := truth[r.imageID]
		if matched[r.imageID] == nil {
			matched[r.imageID] = make([]bool, len(boxes))
		}
		best, bestIoU := -1, iouThreshold
		for j, box := range boxes {
			if matched[r.imageID][j] {
				continue
			}
			if iou := r.det.Box.IoU(box); iou >= bestIoU {
				best, bestIoU = j, iou
			}
		}
		if best >= 0 {
			matched[r.imageID][best] = true
			tps[i] = true
		}
	}

	// all-point interpolated AP over the precision/recall curve
	var ap, tp, fp float64
	lastRecall := 0.0
	maxPrecisionFrom := make([]float64, len(ranked)+1)
	precisions := make([]float64, len(ranked))
	recalls := make([]float64, len(ranked))
	for i := range ranked {
		if tps[i] {
			tp++
		} else {
			fp++
		}
		precisions[i] = tp / (tp + fp)
		recalls[i] = tp / float64(totalTruth)
	}
	for i := len(ranked) - 1; i >= 0; i-- {
		maxPrecisionFrom[i] = precisions[i]
		if maxPrecisionFrom[i+1] > maxPrecisionFrom[i] {
			maxPrecisionFrom[i] = maxPrecisionFrom[i+1]
		}
	}
	for i := range ranked {
		if recalls[i] > lastRecall {
			ap += (recalls[i] - lastRecall) * maxPrecisionFrom[i]
			lastRecall = recalls[i]
		}
	}
	return ap
}

func (e *CocoDetectionEvaluator) Render(w io.Writer, results Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"class", "AP50"})
	for _, class := range e.classes {
		if ap, ok := results.Metrics["AP_"+class]; ok {
			t.AppendRow(table.Row{class, fmt.Sprintf("%.4f", ap)})
		}
	}
	t.AppendFooter(table.Row{"mAP", fmt.Sprintf("%.4f", results.Metrics["mAP"])})
	t.Render()
}
