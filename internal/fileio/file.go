package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moby/sys/sequential"
)

// Observer receives retry and skip counts; monitor.SystemMetrics implements it.
type Observer interface {
	RecordRetry()
	RecordSkip()
}

// Reader reads state files that other processes may be rewriting.
type Reader struct {
	Policy  Policy
	Metrics Observer
}

// NewReader creates a reader with the default policy.
func NewReader(metrics Observer) *Reader {
	return &Reader{Policy: DefaultPolicy, Metrics: metrics}
}

// Read returns the file content. A missing file yields ErrNotFound; a file
// that stays busy yields a *TransientIOError matching ErrSkipped.
func (r *Reader) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := retry(ctx, r.Policy, IsBusy, r.observer(), func(ctx context.Context) error {
		b, err := readFile(ctx, path)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if errors.Is(err, ErrExhausted) {
		if r.Metrics != nil {
			r.Metrics.RecordSkip()
		}
		return nil, &TransientIOError{Path: path, Op: "read", Attempts: r.Policy.Attempts, Err: err}
	}
	return nil, err
}

func (r *Reader) observer() RetryObserver {
	if r.Metrics == nil {
		return nil
	}
	return r.Metrics
}

// readFile reads in a goroutine so that a hung read cannot outlive ctx.
// On Windows sequential.Open sets FILE_FLAG_SEQUENTIAL_SCAN for these frequent full reads.
func readFile(ctx context.Context, path string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := sequential.Open(path)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		ch <- result{b, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.data, res.err
	}
}

// Writer replaces state files atomically: the data goes to a temp file in
// the same directory which is then renamed over the target.
type Writer struct {
	Policy  Policy
	Metrics Observer
	Perm    fs.FileMode
}

// NewWriter creates a writer with the default policy.
func NewWriter(metrics Observer) *Writer {
	return &Writer{Policy: DefaultPolicy, Metrics: metrics, Perm: 0o644}
}

// Write replaces path with data, retrying while the target is locked.
func (w *Writer) Write(ctx context.Context, path string, data []byte) error {
	var obs RetryObserver
	if w.Metrics != nil {
		obs = w.Metrics
	}
	err := retry(ctx, w.Policy, IsBusy, obs, func(context.Context) error {
		return writeAtomic(path, data, w.perm())
	})
	if errors.Is(err, ErrExhausted) {
		if w.Metrics != nil {
			w.Metrics.RecordSkip()
		}
		return &TransientIOError{Path: path, Op: "write", Attempts: w.Policy.Attempts, Err: err}
	}
	return err
}

func (w *Writer) perm() fs.FileMode {
	if w.Perm == 0 {
		return 0o644
	}
	return w.Perm
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
