package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the [log] manifest section.
type Config struct {
	Dir   string `toml:"dir"`
	Level string `toml:"level"`
}

func (c Config) dir() string {
	if strings.TrimSpace(c.Dir) == "" {
		return "log"
	}
	return c.Dir
}

func (c Config) level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(c.Level))
	if err != nil || c.Level == "" {
		return zap.InfoLevel
	}
	return lvl
}

// NewLog tees JSON logs to stdout and a rotating file <dir>/<n>.
func NewLog(cfg Config, n string) *zap.Logger {
	dir := cfg.dir()
	_ = os.MkdirAll(dir, 0o755)

	enc := zap.NewProductionEncoderConfig()
	enc.MessageKey = zapcore.OmitKey
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	console := zapcore.Lock(os.Stdout)

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, n),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	})

	lvl := cfg.level()
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), console, lvl),
	)
	return zap.New(core)
}

// ForFunction scopes l to one stored function.
func ForFunction(l *zap.Logger, namespace, id string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.With(zap.String("namespace", namespace), zap.String("id", id))
}
