package tracking

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileLogger is the offline sink behind file: tracking URIs. Every record is
// one JSON line so runs can be inspected or replayed without a server.
type fileLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

type fileRecord struct {
	Type      string  `json:"type"` // tag, param or metric
	Key       string  `json:"key"`
	Value     string  `json:"value,omitempty"`
	Metric    float64 `json:"metric,omitempty"`
	Step      int64   `json:"step,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

func newFileLogger(dir string, experiment string, tags map[string]string) (*fileLogger, error) {
	runName := tags[TagRunName]
	if runName == "" {
		runName = "default"
	}
	rundir := filepath.Join(dir, experiment)
	if err := os.MkdirAll(rundir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(rundir, runName+".jsonl")
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := &fileLogger{file: file, enc: json.NewEncoder(file)}
	if err := l.SetTags(context.Background(), tags); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

func (l *fileLogger) write(rec fileRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.Timestamp = time.Now().UnixMilli()
	return l.enc.Encode(rec)
}

func (l *fileLogger) SetTags(ctx context.Context, tags map[string]string) error {
	for key, value := range tags {
		if err := l.write(fileRecord{Type: "tag", Key: key, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

func (l *fileLogger) LogParams(ctx context.Context, params map[string]string) error {
	for key, value := range params {
		if err := l.write(fileRecord{Type: "param", Key: key, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

func (l *fileLogger) LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error {
	for key, value := range metrics {
		if err := l.write(fileRecord{Type: "metric", Key: key, Metric: value, Step: step}); err != nil {
			return err
		}
	}
	return nil
}

func (l *fileLogger) Close(ctx context.Context) error {
	return l.file.Close()
}
