package data

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stuarteiffert/nanodet/pkg/config"
)

const cocoAnnotations = `{
	"images": [
		{"id": 10, "file_name": "a.jpg", "width": 640, "height": 480},
		{"id": 3, "file_name": "b.jpg", "width": 320, "height": 240}
	],
	"annotations": [
		{"image_id": 10, "category_id": 7, "bbox": [10, 20, 30, 40], "iscrowd": 0},
		{"image_id": 10, "category_id": 2, "bbox": [0, 0, 5, 5], "iscrowd": 1},
		{"image_id": 3, "category_id": 2, "bbox": [1, 2, 3, 4], "iscrowd": 0}
	],
	"categories": [
		{"id": 7, "name": "car"},
		{"id": 2, "name": "person"}
	]
}`

func writeAnnotations(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseAnnotations(t *testing.T) {
	index, err := parseAnnotations(writeAnnotations(t, cocoAnnotations))
	if err != nil {
		t.Fatalf("parseAnnotations() error = %v", err)
	}

	// labels are category ids ranked by id, so person(2)=0 car(7)=1
	if want := []string{"person", "car"}; !reflect.DeepEqual(index.Classes, want) {
		t.Errorf("Classes = %v, want %v", index.Classes, want)
	}
	if len(index.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(index.Samples))
	}
	// samples ordered by image id
	if index.Samples[0].ID != 3 || index.Samples[1].ID != 10 {
		t.Errorf("sample order = [%d %d], want [3 10]", index.Samples[0].ID, index.Samples[1].ID)
	}

	big := index.Samples[1]
	if len(big.Objects) != 1 {
		t.Fatalf("image 10 has %d objects, want 1 (iscrowd skipped)", len(big.Objects))
	}
	obj := big.Objects[0]
	if obj.Label != 1 {
		t.Errorf("label = %d, want 1 (car)", obj.Label)
	}
	// xywh converted to corner coordinates
	if obj.Box.X2 != 40 || obj.Box.Y2 != 60 {
		t.Errorf("box = %+v, want x2 40 y2 60", obj.Box)
	}
}

func TestCOCODatasetSampleJoinsImagePath(t *testing.T) {
	cfg := config.DatasetConfig{
		Name:    "coco",
		ImgPath: "/data/images",
		AnnPath: writeAnnotations(t, cocoAnnotations),
	}
	ds, err := NewCOCODataset(context.Background(), cfg, ModeTrain)
	if err != nil {
		t.Fatal(err)
	}
	sample, err := ds.Sample(0)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/data/images", "b.jpg"); sample.ImagePath != want {
		t.Errorf("ImagePath = %q, want %q", sample.ImagePath, want)
	}
	if _, err := ds.Sample(99); err == nil {
		t.Error("out of range Sample() must fail")
	}
}

func TestLoadAnnotationIndexCache(t *testing.T) {
	cfg := config.DatasetConfig{
		Name:     "coco",
		AnnPath:  writeAnnotations(t, cocoAnnotations),
		CacheDir: filepath.Join(t.TempDir(), "cache"),
	}
	ctx := context.Background()

	first, cached, err := loadAnnotationIndex(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		t.Error("first load must parse, not hit the cache")
	}

	second, cached, err := loadAnnotationIndex(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("second load must come from the cache")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached index differs from parsed index: %+v != %+v", second, first)
	}
}
