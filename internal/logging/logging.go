// Package logging builds the process loggers. Stage two additionally keeps
// an in-memory copy of every line so the run log can be shipped to object
// storage when the process exits.
package logging

import (
	"bytes"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger at the given level. Construction failures
// fall back to a nop logger rather than aborting the process.
func New(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Capture is a concurrency-safe buffer of emitted log lines.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Sync satisfies zapcore.WriteSyncer.
func (c *Capture) Sync() error { return nil }

// Bytes returns a copy of everything logged so far.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}

// NewCaptured builds a logger that writes to both stderr and an in-memory
// capture, console-encoded so the shipped run log stays readable.
func NewCaptured(level string) (*zap.Logger, *Capture) {
	capture := &Capture{}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	lvl := parseLevel(level)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), lvl),
		zapcore.NewCore(enc, capture, lvl),
	)
	return zap.New(core), capture
}
