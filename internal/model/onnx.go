package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// envMu serializes onnxruntime environment setup across loaders.
var envMu sync.Mutex

type onnxRunner struct {
	session     *ort.DynamicAdvancedSession
	inputShape  []int64
	outputShape ort.Shape
}

// NewONNXLoader returns a Loader backed by onnxruntime. The exported graph
// carries no training ops, so every run is a frozen evaluation-mode pass.
// sharedLibPath points at libonnxruntime; empty uses the library default.
func NewONNXLoader(sharedLibPath string) Loader {
	return func(path string) (Runner, error) {
		if err := initEnvironment(sharedLibPath); err != nil {
			return nil, err
		}

		inputs, outputs, err := ort.GetInputOutputInfo(path)
		if err != nil {
			return nil, fmt.Errorf("onnx get input/output info: %w", err)
		}
		if len(inputs) != 1 || len(outputs) == 0 {
			return nil, fmt.Errorf("onnx model must have one input and at least one output, got %d/%d",
				len(inputs), len(outputs))
		}

		// Only batch-of-one inference: dynamic output axes collapse to 1.
		outputShape := make(ort.Shape, len(outputs[0].Dimensions))
		for i, d := range outputs[0].Dimensions {
			if d <= 0 {
				d = 1
			}
			outputShape[i] = d
		}
		if len(outputShape) == 0 {
			outputShape = ort.NewShape(1)
		}

		session, err := ort.NewDynamicAdvancedSession(path,
			[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
		if err != nil {
			return nil, fmt.Errorf("onnx new session: %w", err)
		}

		return &onnxRunner{
			session:     session,
			inputShape:  append([]int64(nil), inputs[0].Dimensions...),
			outputShape: outputShape,
		}, nil
	}
}

func initEnvironment(sharedLibPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibPath != "" {
		ort.SetSharedLibraryPath(sharedLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx init environment: %w", err)
	}
	return nil
}

func (r *onnxRunner) InputShape() []int64 {
	return r.inputShape
}

// Run allocates per-call tensors so concurrent requests share only the session.
func (r *onnxRunner) Run(input []float32, shape []int64) (float32, error) {
	in, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return 0, fmt.Errorf("onnx new input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](r.outputShape)
	if err != nil {
		return 0, fmt.Errorf("onnx new output tensor: %w", err)
	}
	defer out.Destroy()

	if err := r.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}

	data := out.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("onnx model produced an empty output")
	}
	return data[0], nil
}

func (r *onnxRunner) Close() error {
	if r.session == nil {
		return nil
	}
	return r.session.Destroy()
}
