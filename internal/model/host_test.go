package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brainage-api/internal/volume"
)

// meanRunner is a deterministic stand-in for a trained model: it returns
// a fixed affine function of the mean intensity.
type meanRunner struct {
	shape  []int64
	out    float32
	fail   error
	closed atomic.Bool
}

func (r *meanRunner) InputShape() []int64 { return r.shape }

func (r *meanRunner) Run(input []float32, shape []int64) (float32, error) {
	if r.fail != nil {
		return 0, r.fail
	}
	if r.out != 0 {
		return r.out, nil
	}
	var sum float32
	for _, v := range input {
		sum += v
	}
	return 20 + 60*sum/float32(len(input)), nil
}

func (r *meanRunner) Close() error {
	r.closed.Store(true)
	return nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain_age.onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func countingLoader(r Runner, loads *atomic.Int32, delay time.Duration) Loader {
	return func(string) (Runner, error) {
		loads.Add(1)
		time.Sleep(delay)
		return r, nil
	}
}

func testVolume(shape [3]int) *volume.Volume {
	n := shape[0] * shape[1] * shape[2]
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i) / float32(n)
	}
	return &volume.Volume{Shape: shape, Data: data}
}

func TestHost_PredictIsDeterministic(t *testing.T) {
	var loads atomic.Int32
	runner := &meanRunner{shape: []int64{1, 1, 8, 8, 8}}
	host := NewHost(writeArtifact(t), countingLoader(runner, &loads, 0))

	vol := testVolume([3]int{8, 8, 8})
	first, err := host.Predict(vol)
	if err != nil {
		t.Fatalf("first predict: %v", err)
	}
	second, err := host.Predict(vol)
	if err != nil {
		t.Fatalf("second predict: %v", err)
	}
	if first != second {
		t.Errorf("predictions differ: %v vs %v", first, second)
	}
	if loads.Load() != 1 {
		t.Errorf("loads = %d, expected 1", loads.Load())
	}
}

func TestHost_ConcurrentColdStartLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	runner := &meanRunner{shape: []int64{1, 1, -1, -1, -1}}
	host := NewHost(writeArtifact(t), countingLoader(runner, &loads, 20*time.Millisecond))
	vol := testVolume([3]int{4, 4, 4})

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]float64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = host.Predict(vol)
		}(i)
	}
	close(start)
	wg.Wait()

	if loads.Load() != 1 {
		t.Fatalf("loads = %d, expected exactly 1", loads.Load())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("request %d = %v, expected %v", i, results[i], results[0])
		}
	}
}

func TestHost_MissingArtifact(t *testing.T) {
	var loads atomic.Int32
	path := filepath.Join(t.TempDir(), "missing.onnx")
	host := NewHost(path, countingLoader(&meanRunner{}, &loads, 0))

	_, err := host.Predict(testVolume([3]int{2, 2, 2}))
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("error = %v, expected ErrModelNotFound", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q should name the path", err)
	}
	if loads.Load() != 0 {
		t.Errorf("loader should not run when the artifact is missing")
	}
	if host.Loaded() {
		t.Error("host should stay cold")
	}
}

func TestHost_RetriesAfterFailedLoad(t *testing.T) {
	path := writeArtifact(t)
	calls := 0
	runner := &meanRunner{shape: []int64{1, 1, 2, 2, 2}}
	host := NewHost(path, func(string) (Runner, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("corrupt graph")
		}
		return runner, nil
	})

	if _, err := host.Load(); err == nil {
		t.Fatal("expected first load to fail")
	}
	if host.Loaded() {
		t.Fatal("failed load must not mark the host loaded")
	}
	if _, err := host.Predict(testVolume([3]int{2, 2, 2})); err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, expected 2", calls)
	}
}

func TestHost_ShapeValidation(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		vol     [3]int
		wantErr bool
	}{
		{"exact match", []int64{1, 1, 4, 5, 6}, [3]int{4, 5, 6}, false},
		{"dynamic spatial axes", []int64{-1, 1, -1, -1, -1}, [3]int{7, 3, 2}, false},
		{"spatial mismatch", []int64{1, 1, 4, 5, 6}, [3]int{4, 5, 7}, true},
		{"wrong rank", []int64{1, 4, 5, 6}, [3]int{4, 5, 6}, true},
		{"wrong channels", []int64{1, 3, 4, 5, 6}, [3]int{4, 5, 6}, true},
	}

	for _, tt := range tests {
		var loads atomic.Int32
		host := NewHost(writeArtifact(t), countingLoader(&meanRunner{shape: tt.shape}, &loads, 0))
		_, err := host.Predict(testVolume(tt.vol))
		if tt.wantErr && !errors.Is(err, ErrInference) {
			t.Errorf("%s: error = %v, expected ErrInference", tt.name, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
	}
}

func TestHost_InferenceFailures(t *testing.T) {
	tests := []struct {
		name   string
		runner *meanRunner
	}{
		{"runtime error", &meanRunner{shape: []int64{1, 1, 2, 2, 2}, fail: errors.New("kernel crashed")}},
		{"nan output", &meanRunner{shape: []int64{1, 1, 2, 2, 2}, out: float32(math.NaN())}},
		{"inf output", &meanRunner{shape: []int64{1, 1, 2, 2, 2}, out: float32(math.Inf(1))}},
	}

	for _, tt := range tests {
		var loads atomic.Int32
		host := NewHost(writeArtifact(t), countingLoader(tt.runner, &loads, 0))
		_, err := host.Predict(testVolume([3]int{2, 2, 2}))
		if !errors.Is(err, ErrInference) {
			t.Errorf("%s: error = %v, expected ErrInference", tt.name, err)
		}
	}
}

func TestHost_RejectsInconsistentVolume(t *testing.T) {
	var loads atomic.Int32
	host := NewHost(writeArtifact(t), countingLoader(&meanRunner{shape: []int64{1, 1, 2, 2, 2}}, &loads, 0))
	bad := &volume.Volume{Shape: [3]int{2, 2, 2}, Data: make([]float32, 3)}
	if _, err := host.Predict(bad); !errors.Is(err, ErrInference) {
		t.Errorf("error = %v, expected ErrInference", err)
	}
}

func TestHost_Close(t *testing.T) {
	var loads atomic.Int32
	runner := &meanRunner{shape: []int64{1, 1, 2, 2, 2}}
	host := NewHost(writeArtifact(t), countingLoader(runner, &loads, 0))

	if _, err := host.Predict(testVolume([3]int{2, 2, 2})); err != nil {
		t.Fatal(err)
	}
	if err := host.Close(); err != nil {
		t.Fatal(err)
	}
	if !runner.closed.Load() {
		t.Error("runner was not closed")
	}
	if host.Loaded() {
		t.Error("host should report unloaded after Close")
	}
	if err := host.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHost_NoReloadAfterClose(t *testing.T) {
	var loads atomic.Int32
	runner := &meanRunner{shape: []int64{1, 1, 2, 2, 2}}
	host := NewHost(writeArtifact(t), countingLoader(runner, &loads, 0))
	vol := testVolume([3]int{2, 2, 2})

	if _, err := host.Predict(vol); err != nil {
		t.Fatal(err)
	}
	if err := host.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := host.Predict(vol); !errors.Is(err, ErrHostClosed) {
		t.Errorf("Predict after Close: error = %v, expected ErrHostClosed", err)
	}
	if _, err := host.Load(); !errors.Is(err, ErrHostClosed) {
		t.Errorf("Load after Close: error = %v, expected ErrHostClosed", err)
	}
	if loads.Load() != 1 {
		t.Errorf("loads = %d, the model must not be loaded again", loads.Load())
	}
}

func TestHost_CloseColdHost(t *testing.T) {
	var loads atomic.Int32
	host := NewHost(writeArtifact(t), countingLoader(&meanRunner{shape: []int64{1, 1, 2, 2, 2}}, &loads, 0))

	if err := host.Close(); err != nil {
		t.Fatalf("closing a cold host: %v", err)
	}
	if _, err := host.Predict(testVolume([3]int{2, 2, 2})); !errors.Is(err, ErrHostClosed) {
		t.Errorf("error = %v, expected ErrHostClosed", err)
	}
	if loads.Load() != 0 {
		t.Errorf("loads = %d, expected 0", loads.Load())
	}
}

// gatedRunner blocks inside Run until release is closed.
type gatedRunner struct {
	entered    chan struct{}
	release    chan struct{}
	running    atomic.Bool
	closedLive atomic.Bool
}

func (r *gatedRunner) InputShape() []int64 { return []int64{1, 1, 2, 2, 2} }

func (r *gatedRunner) Run([]float32, []int64) (float32, error) {
	r.running.Store(true)
	close(r.entered)
	<-r.release
	r.running.Store(false)
	return 42, nil
}

func (r *gatedRunner) Close() error {
	if r.running.Load() {
		r.closedLive.Store(true)
	}
	return nil
}

func TestHost_CloseWaitsForInFlightRun(t *testing.T) {
	runner := &gatedRunner{entered: make(chan struct{}), release: make(chan struct{})}
	host := NewHost(writeArtifact(t), func(string) (Runner, error) { return runner, nil })

	predicted := make(chan error, 1)
	go func() {
		_, err := host.Predict(testVolume([3]int{2, 2, 2}))
		predicted <- err
	}()
	<-runner.entered

	closed := make(chan error, 1)
	go func() { closed <- host.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a forward pass was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	if err := <-predicted; err != nil {
		t.Errorf("in-flight Predict: %v", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close: %v", err)
	}
	if runner.closedLive.Load() {
		t.Error("runner was closed during Run")
	}
}

func TestHost_LoadedDoesNotWaitForLoad(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	runner := &meanRunner{shape: []int64{1, 1, 2, 2, 2}}
	host := NewHost(writeArtifact(t), func(string) (Runner, error) {
		close(entered)
		<-release
		return runner, nil
	})

	loaded := make(chan error, 1)
	go func() {
		_, err := host.Load()
		loaded <- err
	}()
	<-entered

	answered := make(chan bool, 1)
	go func() { answered <- host.Loaded() }()
	select {
	case got := <-answered:
		if got {
			t.Error("Loaded() = true while the load is still running")
		}
	case <-time.After(time.Second):
		t.Fatal("Loaded() blocked on the running load")
	}

	close(release)
	if err := <-loaded; err != nil {
		t.Fatal(err)
	}
	if !host.Loaded() {
		t.Error("Loaded() = false after the load finished")
	}
}
