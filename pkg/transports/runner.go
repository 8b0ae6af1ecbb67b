// Package transports runs commands and manages files on the target host,
// either locally or over SSH.
package transports

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command is a program invocation on the target host.
type Command struct {
	// Name is the program, looked up on PATH.
	Name string

	// Args are passed verbatim; no shell is involved locally.
	Args []string

	// Env entries ("KEY=value") are added to the inherited environment.
	Env []string
}

// String renders the command as a POSIX shell line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+1+len(c.Args))
	parts = append(parts, c.Env...)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)
	return shellquote.Join(parts...)
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands and file operations on one host.
type Runner interface {
	// Run executes cmd and waits for it. A non-zero exit yields *ExitError
	// together with the captured result; a program that cannot be found
	// yields *ToolMissingError.
	Run(ctx context.Context, cmd Command) (Result, error)

	// ReadFile returns a file's content. Missing files satisfy
	// errors.Is(err, fs.ErrNotExist).
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Stat describes a file without opening it, so files the connecting
	// user cannot read can still be checked for existence. Missing files
	// satisfy errors.Is(err, fs.ErrNotExist).
	Stat(ctx context.Context, path string) (fs.FileInfo, error)

	// WriteFile atomically replaces path with data, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// Rename atomically moves oldpath over newpath.
	Rename(ctx context.Context, oldpath, newpath string) error

	// MkdirAll creates a directory and its parents.
	MkdirAll(ctx context.Context, path string, mode fs.FileMode) error

	// Remove deletes a file. Missing files are not an error.
	Remove(ctx context.Context, path string) error

	// Close releases connections held by the runner.
	Close() error

	// String describes the target, e.g. "local" or "ssh://deploy@10.0.0.5:22".
	String() string
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, lastLine(stderr))
}

// ToolMissingError reports that a program is not installed on the host.
type ToolMissingError struct {
	Tool string
	Err  error
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("%s: not found", e.Tool)
}

func (e *ToolMissingError) Unwrap() error {
	return e.Err
}

// IsToolMissing reports whether err is a *ToolMissingError and returns the tool.
func IsToolMissing(err error) (string, bool) {
	var tm *ToolMissingError
	if errors.As(err, &tm) {
		return tm.Tool, true
	}
	return "", false
}

// ExitCode returns the exit code of an *ExitError, or -1.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode
	}
	return -1
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
