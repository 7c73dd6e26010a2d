package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stuarteiffert/nanodet/pkg/errors"
)

const (
	apiPrefix = "/api/2.0/mlflow"
	UserAgent = "nanodet-train"
)

type MLflowOptions struct {
	TrackingURI string
	Experiment  string
	RunName     string
	Token       string
	Tags        map[string]string
}

func NewDefaultMLflowOptions() *MLflowOptions {
	return &MLflowOptions{
		TrackingURI: "file:./ml-runs",
		Experiment:  "default",
		RunName:     "default",
	}
}

// NewLogger constructs a tracking logger for the options. file: URIs select
// the local JSON-lines sink, anything else speaks the MLflow REST API.
func NewLogger(ctx context.Context, options *MLflowOptions) (Logger, error) {
	tags := ResolveTags(options.Tags)
	if _, ok := tags[TagRunName]; !ok {
		tags[TagRunName] = options.RunName
	}
	if strings.HasPrefix(options.TrackingURI, "file:") {
		return newFileLogger(strings.TrimPrefix(options.TrackingURI, "file:"), options.Experiment, tags)
	}
	client := &MLflowLogger{
		base:  strings.TrimSuffix(options.TrackingURI, "/"),
		token: options.Token,
		http:  http.DefaultClient,
	}
	if err := client.start(ctx, options.Experiment, tags); err != nil {
		return nil, err
	}
	return client, nil
}

// MLflowLogger reports to an MLflow tracking server over its REST API.
type MLflowLogger struct {
	base  string
	token string
	http  *http.Client
	runID string
}

type mlflowTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

func (c *MLflowLogger) start(ctx context.Context, experiment string, tags map[string]string) error {
	experimentID, err := c.experimentID(ctx, experiment)
	if err != nil {
		return err
	}
	req := map[string]any{
		"experiment_id": experimentID,
		"start_time":    time.Now().UnixMilli(),
		"tags":          tagList(tags),
	}
	resp := struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/runs/create", req, &resp); err != nil {
		return err
	}
	if resp.Run.Info.RunID == "" {
		return errors.NewTrackingError("runs/create returned no run id")
	}
	c.runID = resp.Run.Info.RunID
	return nil
}

func (c *MLflowLogger) experimentID(ctx context.Context, name string) (string, error) {
	resp := struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}{}
	query := "/experiments/get-by-name?experiment_name=" + url.QueryEscape(name)
	err := c.do(ctx, http.MethodGet, query, nil, &resp)
	if err == nil && resp.Experiment.ExperimentID != "" {
		return resp.Experiment.ExperimentID, nil
	}
	created := struct {
		ExperimentID string `json:"experiment_id"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/experiments/create", map[string]any{"name": name}, &created); err != nil {
		return "", err
	}
	return created.ExperimentID, nil
}

func (c *MLflowLogger) SetTags(ctx context.Context, tags map[string]string) error {
	for key, value := range tags {
		req := map[string]any{"run_id": c.runID, "key": key, "value": value}
		if err := c.do(ctx, http.MethodPost, "/runs/set-tag", req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *MLflowLogger) LogParams(ctx context.Context, params map[string]string) error {
	req := map[string]any{
		"run_id": c.runID,
		"params": tagList(params),
	}
	return c.do(ctx, http.MethodPost, "/runs/log-batch", req, nil)
}

func (c *MLflowLogger) LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error {
	now := time.Now().UnixMilli()
	list := make([]mlflowMetric, 0, len(metrics))
	for key, value := range metrics {
		list = append(list, mlflowMetric{Key: key, Value: value, Timestamp: now, Step: step})
	}
	req := map[string]any{
		"run_id":  c.runID,
		"metrics": list,
	}
	return c.do(ctx, http.MethodPost, "/runs/log-batch", req, nil)
}

func (c *MLflowLogger) Close(ctx context.Context) error {
	req := map[string]any{
		"run_id":   c.runID,
		"status":   "FINISHED",
		"end_time": time.Now().UnixMilli(),
	}
	return c.do(ctx, http.MethodPost, "/runs/update", req, nil)
}

func (c *MLflowLogger) do(ctx context.Context, method string, path string, reqbody any, respbody any) error {
	var body io.Reader
	if reqbody != nil {
		raw, err := json.Marshal(reqbody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewTrackingError(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return errors.NewTrackingError(fmt.Sprintf("%s %s: %s %s", method, path, resp.Status, raw))
	}
	if respbody != nil {
		return json.NewDecoder(resp.Body).Decode(respbody)
	}
	return nil
}

func tagList(m map[string]string) []mlflowTag {
	list := make([]mlflowTag, 0, len(m))
	for key, value := range m {
		list = append(list, mlflowTag{Key: key, Value: value})
	}
	return list
}
