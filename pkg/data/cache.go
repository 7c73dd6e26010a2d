package data

import (
	"context"
	"encoding/json"
	"os"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/stuarteiffert/nanodet/pkg/config"
)

// loadAnnotationIndex returns the parsed index for an annotation file, going
// through a LevelDB cache keyed by the file's digest when a cache dir is
// configured. A corrupt or missing cache entry falls back to parsing.
func loadAnnotationIndex(ctx context.Context, cfg config.DatasetConfig) (annotationIndex, bool, error) {
	if cfg.CacheDir == "" {
		index, err := parseAnnotations(cfg.AnnPath)
		return index, false, err
	}
	log := logr.FromContextOrDiscard(ctx)

	raw, err := os.ReadFile(cfg.AnnPath)
	if err != nil {
		return annotationIndex{}, false, err
	}
	key := []byte(digest.FromBytes(raw).String())

	db, err := leveldb.OpenFile(cfg.CacheDir, nil)
	if err != nil {
		log.Info("annotation cache unavailable, parsing directly", "dir", cfg.CacheDir, "err", err.Error())
		index, err := parseAnnotations(cfg.AnnPath)
		return index, false, err
	}
	defer db.Close()

	if cached, err := db.Get(key, nil); err == nil {
		index := annotationIndex{}
		if err := json.Unmarshal(cached, &index); err == nil {
			return index, true, nil
		}
		// fall through and reparse on decode failure
	} else if err != leveldb.ErrNotFound {
		log.Info("annotation cache read failed", "err", err.Error())
	}

	index, err := parseAnnotations(cfg.AnnPath)
	if err != nil {
		return annotationIndex{}, false, err
	}
	encoded, err := json.Marshal(index)
	if err != nil {
		return annotationIndex{}, false, err
	}
	if err := db.Put(key, encoded, nil); err != nil {
		log.Info("annotation cache write failed", "err", err.Error())
	}
	return index, false, nil
}
