package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccnetdrv/ccnetd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
	mu     sync.RWMutex

	moduleLoggers map[string]*zap.Logger
)

// Init builds the process-wide logger from cfg. Safe to call more
// than once; only the first call takes effect.
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		moduleLoggers = make(map[string]*zap.Logger)

		level := parseLevel(cfg.Level)

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		var encoder zapcore.Encoder
		if cfg.Format == "json" {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		var cores []zapcore.Core

		if cfg.Output == "stdout" || cfg.Output == "both" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		}

		if cfg.Output == "file" || cfg.Output == "both" {
			logDir := cfg.File.Path
			if err = os.MkdirAll(logDir, 0755); err != nil {
				return
			}

			fileWriter := &lumberjack.Logger{
				Filename:   filepath.Join(logDir, cfg.File.Filename),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level))

			errorWriter := &lumberjack.Logger{
				Filename:   filepath.Join(logDir, "error.log"),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
		}

		core := zapcore.NewTee(cores...)

		logger = zap.New(
			core,
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		sugar = logger.Sugar()

		for module, levelStr := range cfg.Modules {
			moduleCore := zapcore.NewCore(
				encoder,
				zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)),
				parseLevel(levelStr),
			)
			moduleLoggers[module] = zap.New(moduleCore, zap.AddCaller(), zap.AddCallerSkip(1))
		}
	})

	return err
}

func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger returns the process-wide logger, falling back to a
// production default if Init hasn't run yet (e.g. in tests).
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		defaultLogger, _ := zap.NewProduction()
		return defaultLogger
	}
	return logger
}

func GetSugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		return GetLogger().Sugar()
	}
	return sugar
}

// GetModuleLogger returns the logger configured for module, or the
// default logger if no per-module level was configured for it.
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := moduleLoggers[module]; ok {
		return l
	}
	return GetLogger()
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetLogger().Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetSugar().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetSugar().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetSugar().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetSugar().Errorf(template, args...) }

// With returns a logger with the given fields attached.
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// WithModule returns the logger for a named module (serial, opctl,
// websocket, ...).
func WithModule(module string) *zap.Logger {
	return GetModuleLogger(module)
}

// LogRequest records one admin API HTTP request.
func LogRequest(method, path string, statusCode int, latency time.Duration, clientIP string) {
	GetLogger().Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", statusCode),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	)
}

func LogError(err error, msg string, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	GetLogger().Error(msg, fields...)
}

func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogSerialCommand records one command/response exchange with the
// device, independent of the structured per-op logging the ccnet
// package does on its own logger.
func LogSerialCommand(cmd string, response string, success bool) {
	l := GetModuleLogger("serial")
	if success {
		l.Info("serial_command", zap.String("command", cmd), zap.String("response", response))
	} else {
		l.Error("serial_command_failed", zap.String("command", cmd), zap.String("response", response))
	}
}

// LogWebSocketMessage records one event broadcast over the admin
// API's websocket hub.
func LogWebSocketMessage(direction string, messageType string, payload interface{}) {
	GetModuleLogger("websocket").Debug("ws_message",
		zap.String("direction", direction),
		zap.String("type", messageType),
		zap.Any("payload", payload),
	)
}

// SetLevel raises the default logger's minimum level by wrapping its
// core with zap.IncreaseLevel (Init only runs once, so calling Init
// again would do nothing). It cannot lower the level below the one
// the core was built with; such a request leaves the level unchanged.
// Per-module loggers are not affected.
func SetLevel(levelStr string) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return
	}
	level := parseLevel(levelStr)
	logger = logger.WithOptions(zap.IncreaseLevel(level))
	sugar = logger.Sugar()
}

func Cleanup() {
	if err := Sync(); err != nil {
		fmt.Printf("failed to sync logger: %v\n", err)
	}
}
