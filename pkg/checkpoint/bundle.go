package checkpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v4"
	"github.com/opencontainers/go-digest"
	"sigs.k8s.io/yaml"

	"github.com/stuarteiffert/nanodet/pkg/errors"
	"github.com/stuarteiffert/nanodet/pkg/types"
)

const (
	MetaFileName    = "meta.yaml"
	WeightDirName   = "weights"
	WeightExtension = ".bin"
)

var tgz = archiver.CompressedArchive{
	Archival:    archiver.Tar{},
	Compression: archiver.Gz{},
}

// Write serializes the checkpoint as a tar+gzip bundle holding meta.yaml and
// one little-endian float32 file per tensor, returning the bundle digest.
func Write(ctx context.Context, ckpt *Checkpoint, w io.Writer) (digest.Digest, error) {
	stage, err := os.MkdirTemp("", "nanodet-ckpt-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stage)

	if err := stageBundle(ckpt, stage); err != nil {
		return "", err
	}
	files, err := archiver.FilesFromDisk(
		&archiver.FromDiskOptions{ClearAttributes: true},
		map[string]string{stage + string(os.PathSeparator): ""},
	)
	if err != nil {
		return "", err
	}
	d := digest.Canonical.Digester()
	if err := tgz.Archive(ctx, io.MultiWriter(w, d.Hash()), files); err != nil {
		return "", err
	}
	return d.Digest(), nil
}

func stageBundle(ckpt *Checkpoint, dir string) error {
	ckpt.refreshTensorInfos()
	meta := ckpt.Meta
	for i, info := range meta.Tensors {
		tensor := ckpt.Weights[info.Name]
		if err := tensor.Validate(); err != nil {
			return errors.NewCheckpointInvalidError(fmt.Errorf("tensor %s: %w", info.Name, err))
		}
		raw := encodeTensor(tensor)
		meta.Tensors[i].Digest = digest.FromBytes(raw)
		file := filepath.Join(dir, WeightDirName, info.Name+WeightExtension)
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(file, raw, 0o644); err != nil {
			return err
		}
	}
	metaraw, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetaFileName), metaraw, 0o644)
}

// Read parses a bundle produced by Write. A bundle without a version marker in
// its meta is returned as-is; callers decide whether to convert it.
func Read(ctx context.Context, r io.Reader) (*Checkpoint, error) {
	contents := map[string][]byte{}
	err := tgz.Extract(ctx, r, nil, func(ctx context.Context, f archiver.File) error {
		if f.IsDir() {
			return nil
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		raw, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		contents[f.NameInArchive] = raw
		return nil
	})
	if err != nil {
		return nil, errors.NewCheckpointInvalidError(err)
	}

	metaraw, ok := contents[MetaFileName]
	if !ok {
		return nil, errors.NewCheckpointInvalidError(fmt.Errorf("bundle has no %s", MetaFileName))
	}
	meta := Meta{}
	if err := yaml.Unmarshal(metaraw, &meta); err != nil {
		return nil, errors.NewCheckpointInvalidError(err)
	}

	weights := make(map[string]types.Tensor, len(meta.Tensors))
	for _, info := range meta.Tensors {
		raw, ok := contents[WeightDirName+"/"+info.Name+WeightExtension]
		if !ok {
			return nil, errors.NewCheckpointInvalidError(fmt.Errorf("bundle is missing tensor %s", info.Name))
		}
		if info.Digest != "" && digest.FromBytes(raw) != info.Digest {
			return nil, errors.NewCheckpointInvalidError(fmt.Errorf("tensor %s digest mismatch", info.Name))
		}
		tensor, err := decodeTensor(info.Shape, raw)
		if err != nil {
			return nil, errors.NewCheckpointInvalidError(fmt.Errorf("tensor %s: %w", info.Name, err))
		}
		weights[info.Name] = tensor
	}
	return &Checkpoint{Meta: meta, Weights: weights}, nil
}

// LoadFile reads a checkpoint from disk, accepting both bundle files and the
// old bare-JSON weight maps.
func LoadFile(ctx context.Context, path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCheckpointUnknownError(path)
		}
		return nil, err
	}
	if looksLikeJSON(raw) {
		return readLegacyJSON(raw)
	}
	return Read(ctx, bytes.NewReader(raw))
}

func looksLikeJSON(raw []byte) bool {
	trimmed := strings.TrimLeft(string(raw[:min(len(raw), 64)]), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func encodeTensor(t types.Tensor) []byte {
	raw := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return raw
}

func decodeTensor(shape []int, raw []byte) (types.Tensor, error) {
	if len(raw)%4 != 0 {
		return types.Tensor{}, fmt.Errorf("weight data length %d is not float32 aligned", len(raw))
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	t := types.Tensor{Shape: shape, Data: data}
	if err := t.Validate(); err != nil {
		return types.Tensor{}, err
	}
	return t, nil
}
