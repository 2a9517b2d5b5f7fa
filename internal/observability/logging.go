// Package observability provides logging utilities.
package observability

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/rotator/internal/config"
)

// Subsystem logger names. A logging.components entry keyed by one of them
// overrides logging.level for that subsystem and its children.
const (
	Engine     = "engine"
	Scheduler  = "scheduler"
	Executor   = "executor"
	Movement   = "movement"
	Navigation = "navigation"
	Catalog    = "catalog"
	Scripting  = "scripting"
	Notify     = "notify"
	Perception = "perception"
)

// Components lists every subsystem logger name.
var Components = []string{Engine, Scheduler, Executor, Movement, Navigation, Catalog, Scripting, Notify, Perception}

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level and every cfg.Components value must be one of
// "debug", "info", "warn", "error"; every cfg.Components key must be listed in
// Components.
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	levels, err := ParseLevels(cfg)
	if err != nil {
		return nil, err
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		// A tick loop warns in bursts; keep every line.
		zapCfg.Sampling = nil
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	// The sink admits the most verbose level any subsystem asks for;
	// the wrapped core filters per logger name.
	zapCfg.Level = zap.NewAtomicLevelAt(levels.Min())
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	logger, err := zapCfg.Build(zap.WrapCore(levels.Wrap))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// Levels maps subsystem logger names to their minimum level.
type Levels struct {
	Base       zapcore.Level
	Components map[string]zapcore.Level
}

// ParseLevels validates and parses the configured levels.
func ParseLevels(cfg config.LoggingConfig) (Levels, error) {
	base, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return Levels{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	l := Levels{Base: base, Components: make(map[string]zapcore.Level, len(cfg.Components))}
	for name, text := range cfg.Components {
		if !slices.Contains(Components, name) {
			return Levels{}, fmt.Errorf("unknown logging component %q", name)
		}
		lvl, err := zapcore.ParseLevel(text)
		if err != nil {
			return Levels{}, fmt.Errorf("parsing log level %q of %s: %w", text, name, err)
		}
		l.Components[name] = lvl
	}
	return l, nil
}

// Min returns the most verbose configured level.
func (l Levels) Min() zapcore.Level {
	lvl := l.Base
	for _, c := range l.Components {
		lvl = min(lvl, c)
	}
	return lvl
}

// For returns the level of the logger called name. "scheduler.arbiter" falls
// back to "scheduler", then to Base.
func (l Levels) For(name string) zapcore.Level {
	for name != "" {
		if lvl, ok := l.Components[name]; ok {
			return lvl
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return l.Base
}

// Wrap filters core by logger name.
func (l Levels) Wrap(core zapcore.Core) zapcore.Core {
	if len(l.Components) == 0 {
		return core
	}
	return &levelCore{Core: core, levels: l}
}

type levelCore struct {
	zapcore.Core
	levels Levels
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), levels: c.levels}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.levels.For(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// ForRun tags logger with a fresh run identifier.
//
// Postcondition: Returns the tagged logger and the identifier.
func ForRun(logger *zap.Logger) (*zap.Logger, string) {
	id := uuid.New().String()
	return logger.With(zap.String("run_id", id)), id
}
