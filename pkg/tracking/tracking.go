package tracking

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
)

// MLflow reserved tag keys.
const (
	TagRunName    = "mlflow.runName"
	TagUser       = "mlflow.user"
	TagSourceName = "mlflow.source.name"
	TagSourceType = "mlflow.source.type"
)

// Logger records run parameters and step metrics in an experiment tracker.
type Logger interface {
	SetTags(ctx context.Context, tags map[string]string) error
	LogParams(ctx context.Context, params map[string]string) error
	LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error
	Close(ctx context.Context) error
}

// Noop is the logger used when experiment tracking is not requested.
type Noop struct{}

func (Noop) SetTags(ctx context.Context, tags map[string]string) error     { return nil }
func (Noop) LogParams(ctx context.Context, params map[string]string) error { return nil }
func (Noop) LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error {
	return nil
}
func (Noop) Close(ctx context.Context) error { return nil }

// ResolveTags fills in the ambient context tags, keeping any caller-set keys.
func ResolveTags(userTags map[string]string) map[string]string {
	tags := map[string]string{
		TagSourceName: filepath.Base(os.Args[0]),
		TagSourceType: "LOCAL",
	}
	if u, err := user.Current(); err == nil {
		tags[TagUser] = u.Username
	}
	for k, v := range userTags {
		tags[k] = v
	}
	return tags
}
