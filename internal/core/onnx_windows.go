//go:build windows

package core

import (
	"context"
	"errors"

	"veco-ner/internal/core/types"
)

const OnnxModelFile = "model.onnx"

var ErrOnnxNotSupportedOnWindows = errors.New("ONNX models are not supported on Windows")

func InitOnnxRuntime(string) error {
	return ErrOnnxNotSupportedOnWindows
}

type OnnxTokenClassifier struct{}

func LoadOnnxTokenClassifier(string, *types.ModelConfig) (*OnnxTokenClassifier, error) {
	return nil, ErrOnnxNotSupportedOnWindows
}

func (m *OnnxTokenClassifier) Config() *types.ModelConfig {
	return nil
}

func (m *OnnxTokenClassifier) Forward(context.Context, *types.Inputs) (*types.TokenClassifierOutput, error) {
	return nil, ErrOnnxNotSupportedOnWindows
}

func (m *OnnxTokenClassifier) Release() {}
