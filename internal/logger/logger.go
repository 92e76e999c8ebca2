// Package logger holds the process-wide zap logger.
package logger

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
}

var Lg *zap.Logger

func init() {
	initDefaultLogger()
}

func initDefaultLogger() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	logger, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		Lg = zap.NewNop()
		return
	}
	Lg = logger
}

// Init replaces the default logger. Development mode writes colourless
// console output to stdout; any other mode writes JSON. When cfg.Filename is
// set the JSON stream goes to a rotated file instead.
func Init(cfg *LogConfig, mode string) error {
	level := new(zapcore.Level)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	var core zapcore.Core
	if mode == "dev" || mode == "development" {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level)
		if cfg.Filename != "" {
			core = zapcore.NewTee(core, zapcore.NewCore(getEncoder(), getLogWriter(cfg), level))
		}
	} else {
		writer := zapcore.Lock(os.Stdout)
		if cfg.Filename != "" {
			writer = getLogWriter(cfg)
		}
		core = zapcore.NewCore(getEncoder(), writer, level)
	}

	Lg = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	Info("logger initialized", zap.String("level", level.String()), zap.String("mode", mode))
	return nil
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(cfg *LogConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
	})
}

func Info(msg string, fields ...zap.Field) {
	Lg.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Lg.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Lg.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Lg.Debug(msg, fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if Lg != nil {
		_ = Lg.Sync()
	}
}
