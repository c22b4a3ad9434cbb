package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"brainage-api/internal/volume"
)

var (
	// ErrModelNotFound means the model artifact is missing at the configured
	// path. It is a deployment problem; no request can succeed until it is fixed.
	ErrModelNotFound = errors.New("model artifact not found")
	// ErrInference covers shape mismatches and forward-pass failures.
	ErrInference = errors.New("inference failed")
	// ErrHostClosed is returned once the host has been shut down.
	ErrHostClosed = errors.New("model host closed")
)

// Runner is a loaded regression model in evaluation mode.
type Runner interface {
	// InputShape is the 5-D input shape the model accepts; -1 marks a dynamic axis.
	InputShape() []int64
	// Run performs one forward pass and returns the scalar output.
	Run(input []float32, shape []int64) (float32, error)
	Close() error
}

// Loader opens the model artifact at path.
type Loader func(path string) (Runner, error)

// Host loads a single model lazily and shares it read-only across requests.
// After Close it refuses further work; the model is never loaded twice.
type Host struct {
	mu sync.Mutex // serializes Load and Close
	// runMu is held shared by forward passes and exclusively by Close.
	runMu sync.RWMutex

	path   string
	loader Loader

	runner Runner
	inited atomic.Bool
	closed atomic.Bool
}

// NewHost creates a host that will load the model at path on first use.
func NewHost(path string, loader Loader) *Host {
	return &Host{path: path, loader: loader}
}

// Path returns the configured artifact location.
func (h *Host) Path() string {
	return h.path
}

// Load opens the model if it is not loaded yet. A failed load leaves the host
// cold so a later call can retry once the artifact is in place.
func (h *Host) Load() (Runner, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	if h.inited.Load() {
		return h.runner, nil
	}

	if _, err := os.Stat(h.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, h.path)
		}
		return nil, fmt.Errorf("stat model artifact: %w", err)
	}

	runner, err := h.loader(h.path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", h.path, err)
	}
	h.runner = runner
	h.inited.Store(true)
	return runner, nil
}

// Loaded reports whether the model is loaded. It does not wait for a load
// in progress.
func (h *Host) Loaded() bool {
	return h.inited.Load()
}

// Predict runs the model on v reshaped to (1, 1, X, Y, Z) and returns the
// scalar output.
func (h *Host) Predict(v *volume.Volume) (float64, error) {
	runner, err := h.Load()
	if err != nil {
		return 0, err
	}
	if v == nil || len(v.Data) != v.Len() {
		return 0, fmt.Errorf("%w: volume data does not match its shape", ErrInference)
	}

	shape := v.TensorShape()
	if err := checkShape(runner.InputShape(), shape); err != nil {
		return 0, err
	}

	out, err := h.run(runner, v.Data, shape)
	if err != nil {
		if errors.Is(err, ErrHostClosed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	age := float64(out)
	if math.IsNaN(age) || math.IsInf(age, 0) {
		return 0, fmt.Errorf("%w: model returned non-finite output %v", ErrInference, age)
	}
	return age, nil
}

func (h *Host) run(runner Runner, data []float32, shape []int64) (float32, error) {
	h.runMu.RLock()
	defer h.runMu.RUnlock()
	if h.closed.Load() {
		return 0, ErrHostClosed
	}
	return runner.Run(data, shape)
}

// Close waits for in-flight forward passes, then releases the model. Later
// calls to Load and Predict fail with ErrHostClosed. Safe to call on a cold
// host and more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Swap(true) {
		return nil
	}
	if !h.inited.Load() {
		return nil
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()
	h.inited.Store(false)
	return h.runner.Close()
}

func checkShape(expected, actual []int64) error {
	if len(expected) != len(actual) {
		return fmt.Errorf("%w: model expects a %d-D input %v, volume tensor is %v",
			ErrInference, len(expected), expected, actual)
	}
	for i, dim := range expected {
		if dim > 0 && dim != actual[i] {
			return fmt.Errorf("%w: model expects input shape %v, volume tensor is %v",
				ErrInference, expected, actual)
		}
	}
	return nil
}
