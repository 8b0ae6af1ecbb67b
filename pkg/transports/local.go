package transports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Local runs commands on the machine provisio itself runs on.
type Local struct {
	logger zerolog.Logger
}

var _ Runner = (*Local)(nil)

// NewLocal creates a local runner.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger.With().Str("component", "local_runner").Logger()}
}

// Run executes cmd without a shell.
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	path, err := exec.LookPath(cmd.Name)
	if err != nil {
		return Result{ExitCode: -1}, &ToolMissingError{Tool: cmd.Name, Err: err}
	}

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	l.logger.Debug().Str("command", cmd.String()).Msg("Running command")
	err = c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: c.ProcessState.ExitCode()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return res, &ExitError{Command: cmd.String(), ExitCode: exitErr.ExitCode(), Stderr: res.Stderr}
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	}
	return res, fmt.Errorf("%s: %w", cmd.Name, err)
}

// Stat describes a local file.
func (l *Local) Stat(_ context.Context, path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// ReadFile reads a local file.
func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes to a temporary file in the target directory and renames
// it into place, so readers never observe a partial file.
func (l *Local) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".provisio-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Rename moves a local file.
func (l *Local) Rename(_ context.Context, oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// MkdirAll creates local directories.
func (l *Local) MkdirAll(_ context.Context, path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode)
}

// Remove deletes a local file, ignoring missing files.
func (l *Local) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

func (l *Local) String() string { return "local" }
