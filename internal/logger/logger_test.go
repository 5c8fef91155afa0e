package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeIf(c interface{ Close() error }) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_NamedProcessUnderSharedDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("web")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)
	defer closeIf(outW)
	defer closeIf(errW)

	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))

	assert.FileExists(t, filepath.Join(dir, "web.stdout.log"))
	assert.FileExists(t, filepath.Join(dir, "web.stderr.log"))
}

func TestProcessWriters_EmptyNameUsesFixedFilenames(t *testing.T) {
	// clier gives every supervised process its own logs/<name>/ directory,
	// so an empty process name yields fixed stdout.log/stderr.log rather
	// than the shared-directory <name>.stdout.log convention above.
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("")
	require.NoError(t, err)
	defer closeIf(outW)
	defer closeIf(errW)

	_, _ = outW.Write([]byte("a\n"))
	_, _ = errW.Write([]byte("b\n"))

	assert.FileExists(t, filepath.Join(dir, "stdout.log"))
	assert.FileExists(t, filepath.Join(dir, "stderr.log"))
}

func TestProcessWriters_ExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "custom.out")
	ep := filepath.Join(dir, "custom.err")
	cfg := Config{File: FileConfig{Dir: dir, StdoutPath: sp, StderrPath: ep}}
	outW, errW, err := cfg.ProcessWriters("ignored")
	require.NoError(t, err)
	defer closeIf(outW)
	defer closeIf(errW)

	require.IsType(t, &lj.Logger{}, outW)
	assert.Equal(t, sp, outW.(*lj.Logger).Filename)
	assert.Equal(t, ep, errW.(*lj.Logger).Filename)
}

func TestProcessWriters_NoDestinationYieldsNilWriters(t *testing.T) {
	cfg := Config{}
	outW, errW, err := cfg.ProcessWriters("n")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)
}

func TestProcessWriters_RotationDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, _, err := cfg.ProcessWriters("svc")
	require.NoError(t, err)
	defer closeIf(outW)
	ol := outW.(*lj.Logger)
	assert.Equal(t, DefaultMaxSizeMB, ol.MaxSize)
	assert.Equal(t, DefaultMaxBackups, ol.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, ol.MaxAge)
	assert.False(t, ol.Compress)

	cfg = Config{File: FileConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	outW, _, err = cfg.ProcessWriters("svc2")
	require.NoError(t, err)
	defer closeIf(outW)
	ol = outW.(*lj.Logger)
	assert.Equal(t, 1, ol.MaxSize)
	assert.Equal(t, 9, ol.MaxBackups)
	assert.Equal(t, 11, ol.MaxAge)
	assert.True(t, ol.Compress)
}

func TestColorTextHandler_ColorOnWrapsLevelInANSI(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{}, true)
	slog.New(h).Info("booting")
	assert.Contains(t, buf.String(), "\033[32m")
}

func TestColorTextHandler_ColorOffIsPlainText(t *testing.T) {
	// combined.log/error.log are lumberjack-rotated files, not a terminal;
	// color must default off so rotated logs stay plain text.
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{}, false)
	slog.New(h).Info("booting")
	assert.NotContains(t, buf.String(), "\033[")
	assert.Contains(t, buf.String(), "booting")
}
