package checkpoint

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

var _ Provider = &LocalProvider{}

// LocalProvider stores bundles under a base directory on the local filesystem.
type LocalProvider struct {
	basepath string
}

func NewLocalProvider(basepath string) (*LocalProvider, error) {
	if err := os.MkdirAll(basepath, DefaultDirMode); err != nil {
		return nil, err
	}
	return &LocalProvider{basepath: basepath}, nil
}

func (f *LocalProvider) Put(ctx context.Context, path string, content BlobContent) error {
	datafile := filepath.Join(f.basepath, path)
	if err := os.MkdirAll(filepath.Dir(datafile), DefaultDirMode); err != nil {
		return err
	}
	fi, err := os.OpenFile(datafile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return err
	}
	defer fi.Close()
	_, err = io.Copy(fi, content.Content)
	return err
}

func (f *LocalProvider) Get(ctx context.Context, path string) (BlobContent, error) {
	datafile := filepath.Join(f.basepath, path)
	fi, err := os.Stat(datafile)
	if err != nil {
		return BlobContent{}, err
	}
	stream, err := os.Open(datafile)
	if err != nil {
		return BlobContent{}, err
	}
	return BlobContent{
		ContentType:   MediaTypeCheckpointBundle,
		ContentLength: fi.Size(),
		Content:       stream,
	}, nil
}

func (f *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.basepath, path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *LocalProvider) Remove(ctx context.Context, path string) error {
	return os.Remove(filepath.Join(f.basepath, path))
}

func (f *LocalProvider) List(ctx context.Context, path string) ([]ObjectMeta, error) {
	out := []ObjectMeta{}
	files, err := os.ReadDir(filepath.Join(f.basepath, path))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, fi := range files {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".ckpt") {
			continue
		}
		finfo, err := fi.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, ObjectMeta{
			Name:         fi.Name(),
			Size:         finfo.Size(),
			LastModified: finfo.ModTime(),
		})
	}
	return out, nil
}
