package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logsSection = "logs"

type watchedConfigurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
	OnChange(fn func(fsnotify.Event))
}

type logsConfig struct {
	Level    string         `mapstructure:"level"`
	Encoding string         `mapstructure:"encoding"`
	File     logsFileConfig `mapstructure:"file"`
}

type logsFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func (c *logsConfig) initDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
	}
	if c.File.MaxSize == 0 {
		c.File.MaxSize = 10 // megabytes
	}
	if c.File.MaxBackups == 0 {
		c.File.MaxBackups = 3
	}
	if c.File.MaxAge == 0 {
		c.File.MaxAge = 7 // days
	}
}

// loggerPlugin hands out named zap loggers. The level follows the config
// file while the process runs.
type loggerPlugin struct {
	level zap.AtomicLevel
	base  *zap.Logger
}

func (l *loggerPlugin) Init(cfg watchedConfigurer) error {
	conf := &logsConfig{}
	if cfg.Has(logsSection) {
		if err := cfg.UnmarshalKey(logsSection, conf); err != nil {
			return err
		}
	}
	conf.initDefaults()

	level, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", conf.Level, err)
	}
	l.level = zap.NewAtomicLevelAt(level)

	cores := []zapcore.Core{newConsoleCore(conf.Encoding, l.level)}
	if conf.File.Path != "" {
		fileCore, err := newFileCore(conf.File, l.level)
		if err != nil {
			return err
		}
		cores = append(cores, fileCore)
	}

	l.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	cfg.OnChange(func(e fsnotify.Event) {
		l.reload(cfg, e)
	})
	return nil
}

func (l *loggerPlugin) reload(cfg watchedConfigurer, e fsnotify.Event) {
	conf := &logsConfig{}
	if err := cfg.UnmarshalKey(logsSection, conf); err != nil {
		l.base.Error("Error reloading log configuration", zap.String("file", e.Name), zap.Error(err))
		return
	}
	conf.initDefaults()

	level, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		l.base.Error("Invalid log level in reloaded configuration", zap.String("level", conf.Level))
		return
	}
	if level != l.level.Level() {
		l.level.SetLevel(level)
		l.base.Info("Log level changed", zap.String("level", level.String()))
	}
}

func (l *loggerPlugin) Name() string {
	return "logs"
}

// NamedLogger returns a logger scoped to a plugin
func (l *loggerPlugin) NamedLogger(name string) *zap.Logger {
	return l.base.Named(name)
}

func newConsoleCore(encoding string, level zapcore.LevelEnabler) zapcore.Core {
	if encoding == "json" {
		return zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)
}

// newFileCore writes JSON lines to a rotating file
func newFileCore(conf logsFileConfig, level zapcore.LevelEnabler) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(conf.Path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   conf.Path,
		MaxSize:    conf.MaxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAge,
		Compress:   conf.Compress,
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, level), nil
}
