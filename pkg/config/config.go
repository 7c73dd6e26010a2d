package config

// Config drives dataset, model and schedule construction for a training run.
// It mirrors the YAML layout of the original nanodet config files.
type Config struct {
	SaveDir    string          `json:"save_dir"`
	Model      ModelConfig     `json:"model"`
	ClassNames []string        `json:"class_names"`
	Data       DataConfig      `json:"data"`
	Device     DeviceConfig    `json:"device"`
	Schedule   ScheduleConfig  `json:"schedule"`
	Evaluator  EvaluatorConfig `json:"evaluator"`
	Log        LogConfig       `json:"log"`
}

type EvaluatorConfig struct {
	Name string `json:"name"`
}

type ModelConfig struct {
	Arch ArchConfig `json:"arch"`
}

type ArchConfig struct {
	Name     string     `json:"name"`
	Backbone NamedBlock `json:"backbone"`
	Head     HeadConfig `json:"head"`
}

type NamedBlock struct {
	Name string `json:"name"`
}

type HeadConfig struct {
	Name       string `json:"name"`
	NumClasses int    `json:"num_classes"`
	InputSize  int    `json:"input_size"`
}

type DataConfig struct {
	Train DatasetConfig `json:"train"`
	Val   DatasetConfig `json:"val"`
}

type DatasetConfig struct {
	Name     string `json:"name"`
	ImgPath  string `json:"img_path"`
	AnnPath  string `json:"ann_path"`
	CacheDir string `json:"cache_dir"`
}

type DeviceConfig struct {
	GPUIDs          []int `json:"gpu_ids"`
	BatchSizePerGPU int   `json:"batchsize_per_gpu"`
	WorkersPerGPU   int   `json:"workers_per_gpu"`
}

type ScheduleConfig struct {
	Optimizer    OptimizerConfig `json:"optimizer"`
	TotalEpochs  int             `json:"total_epochs"`
	ValIntervals int             `json:"val_intervals"`
	LoadModel    string          `json:"load_model"`
	Resume       bool            `json:"resume"`
}

type OptimizerConfig struct {
	Name string  `json:"name"`
	LR   float64 `json:"lr"`
}

type LogConfig struct {
	Interval int `json:"interval"`
}

func DefaultConfig() *Config {
	return &Config{
		SaveDir: "workspace",
		Device: DeviceConfig{
			GPUIDs:          []int{0},
			BatchSizePerGPU: 16,
			WorkersPerGPU:   4,
		},
		Schedule: ScheduleConfig{
			Optimizer:    OptimizerConfig{Name: "sgd", LR: 0.01},
			TotalEpochs:  10,
			ValIntervals: 1,
		},
		Evaluator: EvaluatorConfig{Name: "coco_detection"},
		Log:       LogConfig{Interval: 10},
	}
}
