package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"

	"github.com/stuarteiffert/nanodet/pkg/config"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

func init() {
	RegisterDataset("coco", NewCOCODataset)
}

// cocoAnnotationFile is the subset of the COCO annotation schema we read.
type cocoAnnotationFile struct {
	Images []struct {
		ID       int    `json:"id"`
		FileName string `json:"file_name"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	} `json:"images"`
	Annotations []struct {
		ImageID    int       `json:"image_id"`
		CategoryID int       `json:"category_id"`
		BBox       []float64 `json:"bbox"` // x, y, width, height
		IsCrowd    int       `json:"iscrowd"`
	} `json:"annotations"`
	Categories []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
}

// annotationIndex is the parsed, cacheable form of an annotation file.
type annotationIndex struct {
	Samples []types.Sample `json:"samples"`
	Classes []string       `json:"classes"`
}

type COCODataset struct {
	mode    Mode
	imgPath string
	index   annotationIndex
}

func NewCOCODataset(ctx context.Context, cfg config.DatasetConfig, mode Mode) (Dataset, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("dataset", cfg.Name, "mode", mode)
	index, cached, err := loadAnnotationIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("dataset ready", "images", len(index.Samples), "classes", len(index.Classes), "cached", cached)
	return &COCODataset{mode: mode, imgPath: cfg.ImgPath, index: index}, nil
}

func parseAnnotations(annpath string) (annotationIndex, error) {
	raw, err := os.ReadFile(annpath)
	if err != nil {
		return annotationIndex{}, fmt.Errorf("read annotations %s: %w", annpath, err)
	}
	file := cocoAnnotationFile{}
	if err := json.Unmarshal(raw, &file); err != nil {
		return annotationIndex{}, fmt.Errorf("parse annotations %s: %w", annpath, err)
	}

	// category ids are sparse; labels are their rank by id
	catids := make([]int, 0, len(file.Categories))
	names := map[int]string{}
	for _, cat := range file.Categories {
		catids = append(catids, cat.ID)
		names[cat.ID] = cat.Name
	}
	slices.Sort(catids)
	labelOf := make(map[int]int, len(catids))
	classes := make([]string, 0, len(catids))
	for i, id := range catids {
		labelOf[id] = i
		classes = append(classes, names[id])
	}

	samples := map[int]*types.Sample{}
	order := []int{}
	for _, img := range file.Images {
		samples[img.ID] = &types.Sample{
			ID:        img.ID,
			ImagePath: img.FileName,
			Width:     img.Width,
			Height:    img.Height,
		}
		order = append(order, img.ID)
	}
	for _, ann := range file.Annotations {
		sample, ok := samples[ann.ImageID]
		if !ok || ann.IsCrowd != 0 || len(ann.BBox) != 4 {
			continue
		}
		label, ok := labelOf[ann.CategoryID]
		if !ok {
			continue
		}
		sample.Objects = append(sample.Objects, types.Object{
			Box: types.Box{
				X1: ann.BBox[0],
				Y1: ann.BBox[1],
				X2: ann.BBox[0] + ann.BBox[2],
				Y2: ann.BBox[1] + ann.BBox[3],
			},
			Label: label,
		})
	}

	index := annotationIndex{Classes: classes}
	slices.Sort(order)
	for _, id := range order {
		index.Samples = append(index.Samples, *samples[id])
	}
	return index, nil
}

func (d *COCODataset) Name() string { return "coco" }

func (d *COCODataset) Mode() Mode { return d.mode }

func (d *COCODataset) Len() int { return len(d.index.Samples) }

func (d *COCODataset) ClassNames() []string { return d.index.Classes }

func (d *COCODataset) Sample(i int) (types.Sample, error) {
	if i < 0 || i >= len(d.index.Samples) {
		return types.Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(d.index.Samples))
	}
	sample := d.index.Samples[i]
	if d.imgPath != "" {
		sample.ImagePath = filepath.Join(d.imgPath, sample.ImagePath)
	}
	return sample, nil
}
