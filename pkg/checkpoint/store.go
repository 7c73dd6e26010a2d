package checkpoint

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/stuarteiffert/nanodet/pkg/errors"
)

const MediaTypeCheckpointBundle = "application/vnd.nanodet.checkpoint.v1.tar+gzip"

// LastCheckpointName is the fixed filename the trainer writes after every
// epoch and the resume path points at.
const (
	LastCheckpointName = "model_last.ckpt"
	BestCheckpointName = "model_best.ckpt"
)

type BlobContent struct {
	ContentType   string
	ContentLength int64
	Content       io.ReadCloser
}

type ObjectMeta struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Provider abstracts where checkpoint bundles live.
type Provider interface {
	Put(ctx context.Context, path string, content BlobContent) error
	Get(ctx context.Context, path string) (BlobContent, error)
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]ObjectMeta, error)
}

// Store persists checkpoints under a run's save dir.
type Store struct {
	Provider Provider
}

// NewStore selects a provider from the save dir: s3://bucket/prefix targets
// object storage, anything else is a local directory.
func NewStore(ctx context.Context, saveDir string) (*Store, error) {
	if strings.HasPrefix(saveDir, "s3://") {
		u, err := url.Parse(saveDir)
		if err != nil {
			return nil, errors.NewConfigInvalidError("save_dir: " + err.Error())
		}
		options := NewDefaultS3Options()
		options.Bucket = u.Host
		options.Prefix = strings.TrimPrefix(u.Path, "/")
		provider, err := NewS3Provider(ctx, options)
		if err != nil {
			return nil, err
		}
		return &Store{Provider: provider}, nil
	}
	provider, err := NewLocalProvider(saveDir)
	if err != nil {
		return nil, err
	}
	return &Store{Provider: provider}, nil
}

func (s *Store) Put(ctx context.Context, name string, ckpt *Checkpoint) (digest.Digest, error) {
	buf := &bytes.Buffer{}
	dgst, err := Write(ctx, ckpt, buf)
	if err != nil {
		return "", err
	}
	content := BlobContent{
		ContentType:   MediaTypeCheckpointBundle,
		ContentLength: int64(buf.Len()),
		Content:       io.NopCloser(buf),
	}
	if err := s.Provider.Put(ctx, name, content); err != nil {
		return "", errors.NewInternalError(err)
	}
	return dgst, nil
}

func (s *Store) Get(ctx context.Context, name string) (*Checkpoint, error) {
	exists, err := s.Provider.Exists(ctx, name)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if !exists {
		return nil, errors.NewCheckpointUnknownError(name)
	}
	content, err := s.Provider.Get(ctx, name)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	defer content.Content.Close()
	return Read(ctx, content.Content)
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	return s.Provider.Exists(ctx, name)
}

func (s *Store) List(ctx context.Context) ([]ObjectMeta, error) {
	return s.Provider.List(ctx, "")
}
