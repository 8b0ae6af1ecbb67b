package providers

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/provisio/provisio/pkg/transports"
)

// fakeRunner answers commands from a script keyed by command line prefix
// and keeps files in memory.
type fakeRunner struct {
	mu       sync.Mutex
	script   map[string][]response
	commands []string
	files    map[string][]byte
	modes    map[string]fs.FileMode
	dirs     map[string]bool
	writeErr error
	// readErr fails ReadFile for a path, as an unreadable file would.
	readErr map[string]error
}

type fakeFileInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (i fakeFileInfo) Name() string       { return i.name }
func (i fakeFileInfo) Size() int64        { return i.size }
func (i fakeFileInfo) Mode() fs.FileMode  { return i.mode }
func (i fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (i fakeFileInfo) IsDir() bool        { return false }
func (i fakeFileInfo) Sys() any           { return nil }

type response struct {
	result transports.Result
	err    error
	after  func(f *fakeRunner)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		script:  make(map[string][]response),
		files:   make(map[string][]byte),
		modes:   make(map[string]fs.FileMode),
		dirs:    make(map[string]bool),
		readErr: make(map[string]error),
	}
}

// on queues a response for commands starting with prefix. The last queued
// response repeats.
func (f *fakeRunner) on(prefix string, r response) *fakeRunner {
	f.script[prefix] = append(f.script[prefix], r)
	return f
}

func ok(stdout string) response {
	return response{result: transports.Result{Stdout: stdout}}
}

func exit(code int, stderr string) response {
	return response{
		result: transports.Result{Stderr: stderr, ExitCode: code},
		err:    &transports.ExitError{Command: "fake", ExitCode: code, Stderr: stderr},
	}
}

func missing(tool string) response {
	return response{err: &transports.ToolMissingError{Tool: tool, Err: fs.ErrNotExist}}
}

func (f *fakeRunner) Run(_ context.Context, cmd transports.Command) (transports.Result, error) {
	f.mu.Lock()
	line := cmd.String()
	f.commands = append(f.commands, line)

	var (
		best  string
		found bool
	)
	for prefix := range f.script {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		f.mu.Unlock()
		return transports.Result{}, fmt.Errorf("unscripted command: %s", line)
	}
	queue := f.script[best]
	r := queue[0]
	if len(queue) > 1 {
		f.script[best] = queue[1:]
	}
	f.mu.Unlock()

	if r.after != nil {
		r.after(f)
	}
	return r.result, r.err
}

func (f *fakeRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[path]; err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	data, ok := f.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return data, nil
}

func (f *fakeRunner) Stat(_ context.Context, path string) (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return fakeFileInfo{name: filepath.Base(path), size: int64(len(data)), mode: f.modes[path]}, nil
}

func (f *fakeRunner) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[path] = append([]byte(nil), data...)
	f.modes[path] = mode
	return nil
}

func (f *fakeRunner) Rename(_ context.Context, oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	f.files[newpath] = data
	delete(f.files, oldpath)
	return nil
}

func (f *fakeRunner) MkdirAll(_ context.Context, path string, _ fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeRunner) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeRunner) Close() error   { return nil }
func (f *fakeRunner) String() string { return "fake" }

func (f *fakeRunner) ran(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
