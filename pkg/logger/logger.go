package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelDebug
	LevelTrace
)

// Flags selects the optional parts of each log line.
const (
	FlagTimestamp = 1 << iota
	FlagCaller

	DefaultFlags = FlagTimestamp
)

type Logger struct {
	sugar     *zap.SugaredLogger
	out       io.Writer
	prefix    string
	flags     int
	level     LogLevel
	isVerbose bool
}

type Option func(*Logger)

func WithOutput(w io.Writer) Option {
	return func(l *Logger) {
		l.out = w
	}
}

func WithPrefix(prefix string) Option {
	return func(l *Logger) {
		l.prefix = prefix
	}
}

func WithFlags(flags int) Option {
	return func(l *Logger) {
		l.flags = flags
	}
}

func New(options ...Option) *Logger {
	l := &Logger{
		out:       os.Stdout,
		flags:     DefaultFlags,
		level:     LevelInfo,
		isVerbose: false,
	}

	for _, opt := range options {
		opt(l)
	}

	l.sugar = l.build()
	return l
}

func (l *Logger) build() *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if l.flags&FlagTimestamp != 0 {
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	}
	if l.flags&FlagCaller != 0 {
		encCfg.CallerKey = "caller"
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	}

	// Level filtering happens in printf so zap only sees lines that should be written.
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(l.out),
		zapcore.DebugLevel,
	)

	opts := []zap.Option{}
	if l.flags&FlagCaller != 0 {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}

	base := zap.New(core, opts...)
	if name := strings.TrimSpace(strings.Trim(strings.TrimSpace(l.prefix), "[]")); name != "" {
		base = base.Named(name)
	}
	return base.Sugar()
}

func (l *Logger) SetVerbose(verbose bool) {
	l.isVerbose = verbose
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// Sync flushes buffered output; call it before the process exits.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.printf(LevelInfo, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.isVerbose || l.level >= LevelDebug {
		l.printf(LevelDebug, format, args...)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LevelTrace {
		l.printf(LevelTrace, format, args...)
	}
}

func (l *Logger) printf(level LogLevel, format string, args ...interface{}) {
	var prefix string
	switch level {
	case LevelInfo:
		prefix = "INFO: "
	case LevelDebug:
		prefix = "DEBUG: "
	case LevelTrace:
		prefix = "TRACE: "
	}
	l.sugar.Infof(prefix+format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.sugar.Fatalf("FATAL: "+format, args...)
}
