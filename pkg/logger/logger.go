package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wave-collector/pkg/config"
)

type Logger = zap.Logger

var (
	baseLogger    = zap.NewNop()
	defaultFields = struct {
		Collector string
	}{}
	initialized bool
	mu          sync.RWMutex
)

// ParseLevel maps the configured level name to a zap level; unknown names fall back to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger builds the process logger: a colored console core on stdout and a JSON
// core written to a daily rotated file under cfg.Path. Calling it again replaces the
// previous logger.
func InitLogger(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	writer, err := rotatelogs.New(
		filepath.Join(cfg.Path, "wave-%Y%m%d.log"),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotated log file: %w", err)
	}

	fileEncoder := newJSONEncoder()
	if cfg.Format == "console" {
		fileEncoder = zapcore.NewConsoleEncoder(plainConsoleEncoderConfig())
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(coloredConsoleEncoderConfig()), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), level),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	baseLogger = l
	initialized = true
	mu.Unlock()
	return l, nil
}

// ReplaceLogger installs l as the package logger. Tests use it with zaptest/observer cores.
func ReplaceLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = l
	initialized = l != nil
	if l == nil {
		baseLogger = zap.NewNop()
	}
}

func timeLayout() string { return "2006-01-02 15:04:05.000 -07:00" }

func coloredConsoleEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.ConsoleSeparator = " "
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format(timeLayout())))
	}
	encCfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var levelStr string
		switch level {
		case zapcore.DebugLevel:
			levelStr = "\033[36mDEBUG\033[0m"
		case zapcore.InfoLevel:
			levelStr = "\033[32mINFO \033[0m"
		case zapcore.WarnLevel:
			levelStr = "\033[33mWARN \033[0m"
		case zapcore.ErrorLevel:
			levelStr = "\033[31mERROR\033[0m"
		default:
			levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
		}
		enc.AppendString(levelStr)
	}
	// two path segments are enough to find the caller
	encCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return encCfg
}

func plainConsoleEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.ConsoleSeparator = " "
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout())
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return encCfg
}

func newJSONEncoder() zapcore.Encoder {
	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout())
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(jsonCfg)
}

func SetDefaultCollector(collector string) {
	mu.Lock()
	defer mu.Unlock()
	defaultFields.Collector = collector
}

func GetDefaultCollector() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultFields.Collector
}

func getGID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(idField) > 0 {
		if id, err := strconv.Atoi(idField[0]); err == nil {
			return strconv.Itoa(id)
		}
	}
	return "0"
}

// GetLogger returns the process logger, or a no-op logger before InitLogger.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

// Named returns a child logger tagged with a collector name; components keep it for life.
func Named(collector string) *zap.Logger {
	return GetLogger().With(zap.String("collector", collector))
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	mu.RLock()
	l := baseLogger
	collector := defaultFields.Collector
	mu.RUnlock()

	if ce := l.WithOptions(zap.AddCallerSkip(2)).Check(level, msg); ce != nil {
		fields = append(fields, zap.String("collector", collector), zap.String("goid", getGID()))
		ce.Write(fields...)
	}
}

func Debug(msg string, fields ...zapcore.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zap.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zapcore.Field) { log(zap.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { log(zap.FatalLevel, msg, fields...) }

// Sync flushes buffered entries; it is a no-op before InitLogger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if !initialized {
		return nil
	}
	return baseLogger.Sync()
}
