// Package logs is the process-wide logging facade. It wraps logrus, adds a
// per-request/per-run log id carried in the context, and can rotate its
// output file through lumberjack.
package logs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const ctxKeyLogID ctxKey = "log_id"

type Options struct {
	Level      string
	Format     string // text, json
	Output     string // stdout, file, both
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

var logger = newDefaultLogger()

// Init replaces the global logger with one built from opts.
// Not safe to call concurrently with logging.
func Init(opts Options) error {
	l, err := newConfiguredLogger(opts)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Writer exposes the underlying output, e.g. for gin's request logger.
func Writer() io.Writer {
	return logger.Out
}

func Debug(format string, v ...interface{}) { logger.Debugf(format, v...) }
func Info(format string, v ...interface{})  { logger.Infof(format, v...) }
func Warn(format string, v ...interface{})  { logger.Warnf(format, v...) }
func Error(format string, v ...interface{}) { logger.Errorf(format, v...) }
func Fatal(format string, v ...interface{}) { logger.Fatalf(format, v...) }

func CtxDebug(ctx context.Context, format string, v ...interface{}) {
	logger.WithContext(ctx).Debugf(format, v...)
}

func CtxInfo(ctx context.Context, format string, v ...interface{}) {
	logger.WithContext(ctx).Infof(format, v...)
}

func CtxWarn(ctx context.Context, format string, v ...interface{}) {
	logger.WithContext(ctx).Warnf(format, v...)
}

func CtxError(ctx context.Context, format string, v ...interface{}) {
	logger.WithContext(ctx).Errorf(format, v...)
}

func NewLogID() string {
	return uuid.New().String()
}

func GetLogID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	logID, _ := ctx.Value(ctxKeyLogID).(string)
	return logID
}

func SetLogID(ctx context.Context, logID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyLogID, logID)
}

// WithNewLogID returns ctx tagged with a fresh log id.
func WithNewLogID(ctx context.Context) context.Context {
	return SetLogID(ctx, NewLogID())
}

func newDefaultLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&textFormatter{enableColor: !color.NoColor})
	log.SetLevel(logrus.InfoLevel)
	return log
}

func newConfiguredLogger(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	output := strings.ToLower(strings.TrimSpace(opts.Output))
	if output == "" {
		output = "stdout"
	}
	w, err := buildWriter(opts, output)
	if err != nil {
		return nil, err
	}
	log.SetOutput(w)

	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		log.SetFormatter(&jsonFormatter{})
	} else {
		log.SetFormatter(&textFormatter{enableColor: output != "file" && !color.NoColor})
	}

	log.SetLevel(parseLogLevel(opts.Level))
	return log, nil
}

func buildWriter(opts Options, output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "file":
		return newRotateWriter(opts)
	case "both":
		w, err := newRotateWriter(opts)
		if err != nil {
			return nil, err
		}
		return &dualWriter{stdout: os.Stdout, file: w}, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", output)
	}
}

type dualWriter struct {
	stdout io.Writer
	file   io.Writer
}

func (w *dualWriter) Write(p []byte) (int, error) {
	if _, err := w.stdout.Write(p); err != nil {
		return 0, err
	}
	if _, err := w.file.Write(stripANSI(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func newRotateWriter(opts Options) (io.Writer, error) {
	if strings.TrimSpace(opts.File) == "" {
		return nil, fmt.Errorf("log file is required when output includes file")
	}
	if dir := filepath.Dir(opts.File); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir failed: %w", err)
		}
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}

	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: max(opts.MaxBackups, 0),
		MaxAge:     max(opts.MaxAge, 0),
	}, nil
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

type textFormatter struct {
	enableColor bool
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05,000")
	level := strings.ToUpper(entry.Level.String())
	if f.enableColor {
		level = colorizeLevel(entry.Level, level)
	}

	logID := ""
	if entry.Context != nil {
		logID = GetLogID(entry.Context)
	}

	return []byte(fmt.Sprintf("%s %s %s %s\n", level, timestamp, logID, entry.Message)), nil
}

// jsonFormatter adds the context log id as a log_id field.
type jsonFormatter struct {
	logrus.JSONFormatter
}

func (f *jsonFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.JSONFormatter.Format(entry)
	}
	logID := GetLogID(entry.Context)
	if logID == "" {
		return f.JSONFormatter.Format(entry)
	}

	data := make(logrus.Fields, len(entry.Data)+1)
	for k, v := range entry.Data {
		data[k] = v
	}
	data["log_id"] = logID
	withID := *entry
	withID.Data = data
	return f.JSONFormatter.Format(&withID)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(p []byte) []byte {
	return ansiPattern.ReplaceAll(p, nil)
}

var (
	colorDebug = color.New(color.FgCyan)
	colorInfo  = color.New(color.FgGreen)
	colorWarn  = color.New(color.FgYellow)
	colorError = color.New(color.FgRed)
)

func colorizeLevel(level logrus.Level, text string) string {
	switch level {
	case logrus.DebugLevel:
		return colorDebug.Sprint(text)
	case logrus.InfoLevel:
		return colorInfo.Sprint(text)
	case logrus.WarnLevel:
		return colorWarn.Sprint(text)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorError.Sprint(text)
	default:
		return text
	}
}
