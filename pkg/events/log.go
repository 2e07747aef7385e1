package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// LogConfig configures a LogSink.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger, level: zapcore.InfoLevel}
}

func (s *LogSink) Connect(raw map[string]any, logger *zap.Logger) error {
	var cfg LogConfig
	if err := DecodeConfig(raw, &cfg); err != nil {
		return err
	}
	s.logger = logger
	s.level = zapcore.InfoLevel
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		s.level = lvl
	}
	return nil
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	s.logger.Log(s.level, "change event",
		zap.String("op", string(e.Op)),
		zap.String("resource", e.Source.Resource),
		zap.String("table", e.Source.Table),
		zap.Any("before", e.Before),
		zap.Any("after", e.After),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
