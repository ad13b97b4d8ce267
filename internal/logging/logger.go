// Package logging provides category-tagged structured logging for the
// evaluation harness. Every subsystem logs through a named category so a
// single run's output can be filtered per concern (deliberation, judge,
// experiment, ...).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log entry.
type Category string

const (
	CategoryConfig       Category = "config"       // Configuration loading and validation
	CategoryLLM          Category = "llm"          // Model API calls
	CategoryExtract      Category = "extract"      // Structured output extraction
	CategoryDeliberation Category = "deliberation" // Ego/Superego rounds
	CategoryDialogue     Category = "dialogue"     // Turn-by-turn scenario driving
	CategoryJudge        Category = "judge"        // Rubric scoring
	CategoryExperiment   Category = "experiment"   // Job orchestration
	CategoryStats        Category = "stats"        // Effect estimation
	CategoryMemory       Category = "memory"       // Per-identity memory store
)

var (
	mu   sync.RWMutex
	root *zap.Logger = zap.NewNop()
)

// Init installs the process-wide logger. level is one of debug/info/warn/error;
// file, when non-empty, appends JSON entries there in addition to stderr.
func Init(level, file string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stderr"}
	if file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the process logger directly. Tests use this with
// zaptest or a nop logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	root = l
	mu.Unlock()
}

// L returns a logger tagged with the given category.
func L(c Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With(zap.String("category", string(c)))
}

// Sync flushes buffered entries. Safe to call at process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
