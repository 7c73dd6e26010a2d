package errors

import (
	"errors"
	"fmt"
)

const (
	ErrCodeConfigInvalid     ErrCode = "CONFIG_INVALID"
	ErrCodeClassCount        ErrCode = "CLASS_COUNT_MISMATCH"
	ErrCodeDatasetUnknown    ErrCode = "DATASET_UNKNOWN"
	ErrCodeEvaluatorUnknown  ErrCode = "EVALUATOR_UNKNOWN"
	ErrCodeArchUnknown       ErrCode = "ARCH_UNKNOWN"
	ErrCodeCheckpointInvalid ErrCode = "CHECKPOINT_INVALID"
	ErrCodeCheckpointUnknown ErrCode = "CHECKPOINT_UNKNOWN"
	ErrCodeTracking          ErrCode = "TRACKING_FAILED"
	ErrCodeUnsupported       ErrCode = "UNSUPPORTED"
	ErrCodeInternal          ErrCode = "INTERNAL"
)

type ErrCode string

type ErrorInfo struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
	Detail  string  `json:"detail"`
}

func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsErrCode(err error, code ErrCode) bool {
	if err == nil {
		return false
	}
	info := ErrorInfo{}
	if errors.As(err, &info) {
		return info.Code == code
	}
	return false
}

func NewConfigInvalidError(msg string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeConfigInvalid, Message: msg}
}

func NewClassCountError(numClasses, numNames int) ErrorInfo {
	return ErrorInfo{
		Code: ErrCodeClassCount,
		Message: fmt.Sprintf("model.arch.head.num_classes must equal len(class_names), but got %d and %d",
			numClasses, numNames),
	}
}

func NewDatasetUnknownError(name string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeDatasetUnknown, Message: fmt.Sprintf("dataset: %s is not registered", name)}
}

func NewEvaluatorUnknownError(name string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeEvaluatorUnknown, Message: fmt.Sprintf("evaluator: %s is not registered", name)}
}

func NewArchUnknownError(name string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeArchUnknown, Message: fmt.Sprintf("model arch: %s is not registered", name)}
}

func NewCheckpointInvalidError(err error) ErrorInfo {
	return ErrorInfo{Code: ErrCodeCheckpointInvalid, Message: err.Error()}
}

func NewCheckpointUnknownError(name string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeCheckpointUnknown, Message: fmt.Sprintf("checkpoint: %s not found", name)}
}

func NewTrackingError(msg string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeTracking, Message: msg}
}

func NewUnsupportedError(msg string) ErrorInfo {
	return ErrorInfo{Code: ErrCodeUnsupported, Message: msg}
}

func NewInternalError(err error) ErrorInfo {
	return ErrorInfo{Code: ErrCodeInternal, Message: err.Error()}
}
