package logger

import (
	"fmt"
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes the on-disk log destinations for a process.
// If StdoutPath/StderrPath are empty, and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log, or Dir/stdout.log and
// Dir/stderr.log when name is empty (one process per directory).
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory for logs
	StdoutPath string // explicit stdout path overrides Dir
	StderrPath string // explicit stderr path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Config is the logging configuration passed around the daemon. It nests
// FileConfig so future destinations could sit alongside it without
// reshaping callers.
type Config struct {
	File FileConfig
}

// ProcessWriters returns io.WriteClosers for stdout and stderr for the
// given process name. name may be empty, in which case the directory is
// assumed to hold a single process's logs and fixed filenames are used.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, stdoutFilename(name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, stderrFilename(name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   f.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   f.Compress,
		}
	}
	return outW, errW, nil
}

func stdoutFilename(name string) string {
	if name == "" {
		return "stdout.log"
	}
	return fmt.Sprintf("%s.stdout.log", name)
}

func stderrFilename(name string) string {
	if name == "" {
		return "stderr.log"
	}
	return fmt.Sprintf("%s.stderr.log", name)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
