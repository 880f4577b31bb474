package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Debug tags routed to their own files when debug files are enabled.
const (
	TagTcpIn  = "tcp_in"
	TagTcpOut = "tcp_out"
	TagMqIn   = "mq_in"
	TagMqOut  = "mq_out"
)

// RotatingFileHook is the shared base for file hooks that roll over daily.
type RotatingFileHook struct {
	file       *os.File
	filePath   string // base path without date, e.g. "log/server_errors"
	fileExt    string
	lastOpened time.Time
	mu         sync.Mutex
	formatter  logrus.Formatter
	levels     []logrus.Level
	now        func() time.Time
}

func newRotatingFileHook(filePath, fileExt string, formatter logrus.Formatter, levels []logrus.Level) *RotatingFileHook {
	return &RotatingFileHook{
		filePath:  filePath,
		fileExt:   fileExt,
		formatter: formatter,
		levels:    levels,
		now:       time.Now,
	}
}

// rotateFile opens a new dated file when the calendar day changed. Caller holds mu.
func (hook *RotatingFileHook) rotateFile() error {
	now := hook.now()
	if hook.file != nil && sameDay(hook.lastOpened, now) {
		return nil
	}

	if hook.file != nil {
		if err := hook.file.Close(); err != nil {
			// the main logger may not be usable yet, so no logrus here
			return fmt.Errorf("failed to close old log file %s: %w", hook.file.Name(), err)
		}
		hook.file = nil
	}

	datedFileName := fmt.Sprintf("%s_%s%s", hook.filePath, now.Format("2006-01-02"), hook.fileExt)
	if err := os.MkdirAll(filepath.Dir(datedFileName), 0755); err != nil {
		return fmt.Errorf("failed to create log directory for %s: %w", datedFileName, err)
	}

	newFile, err := os.OpenFile(datedFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file %s: %w", datedFileName, err)
	}
	hook.file = newFile
	hook.lastOpened = now
	return nil
}

func (hook *RotatingFileHook) write(entry *logrus.Entry) error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if err := hook.rotateFile(); err != nil {
		return err
	}

	formatted, err := hook.formatter.Format(entry)
	if err != nil {
		return fmt.Errorf("failed to format log entry for %s: %w", hook.filePath, err)
	}
	_, err = hook.file.Write(formatted)
	return err
}

func (hook *RotatingFileHook) Levels() []logrus.Level {
	return hook.levels
}

func (hook *RotatingFileHook) close() error {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.file == nil {
		return nil
	}
	err := hook.file.Close()
	hook.file = nil
	return err
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// ErrorFileHook
type ErrorFileHook struct {
	*RotatingFileHook
}

func NewErrorFileHook(filePath, fileExt string, formatter logrus.Formatter) *ErrorFileHook {
	return &ErrorFileHook{newRotatingFileHook(filePath, fileExt, formatter,
		[]logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel})}
}

func (hook *ErrorFileHook) Fire(entry *logrus.Entry) error {
	if entry.Level > logrus.ErrorLevel {
		return nil
	}
	return hook.write(entry)
}

// DebugFileHook only keeps debug entries carrying its debug_tag.
type DebugFileHook struct {
	*RotatingFileHook
	TargetTag string
}

func NewDebugFileHook(filePath, fileExt string, formatter logrus.Formatter, targetTag string) *DebugFileHook {
	return &DebugFileHook{
		RotatingFileHook: newRotatingFileHook(filePath, fileExt, formatter, []logrus.Level{logrus.DebugLevel}),
		TargetTag:        targetTag,
	}
}

func (hook *DebugFileHook) Fire(entry *logrus.Entry) error {
	if entry.Level != logrus.DebugLevel {
		return nil
	}
	if tag, ok := entry.Data["debug_tag"].(string); !ok || tag != hook.TargetTag {
		return nil
	}
	return hook.write(entry)
}

type LoggerConfig struct {
	EnableAllDebugFiles bool
	LogDir              string
	Level               string
}

// InitLogger builds the application logger. Call once from main and defer
// CloseAllFileHooks with the returned hooks.
func InitLogger(cfg LoggerConfig) (*logrus.Logger, []*RotatingFileHook, error) {
	loggerInstance := logrus.New()

	loggerInstance.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	loggerInstance.SetOutput(os.Stdout)

	level := logrus.DebugLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	loggerInstance.SetLevel(level)

	fileFormatter := &logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"}

	if cfg.LogDir == "" {
		cfg.LogDir = "log"
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", cfg.LogDir, err)
	}

	var allHooks []*RotatingFileHook

	errorHook := NewErrorFileHook(filepath.Join(cfg.LogDir, "server_errors"), ".log", fileFormatter)
	loggerInstance.AddHook(errorHook)
	allHooks = append(allHooks, errorHook.RotatingFileHook)

	if !cfg.EnableAllDebugFiles {
		loggerInstance.Warn("All debug files are disabled by configuration.")
		return loggerInstance, allHooks, nil
	}

	for _, tag := range []string{TagTcpIn, TagTcpOut, TagMqIn, TagMqOut} {
		debugHook := NewDebugFileHook(filepath.Join(cfg.LogDir, tag+"_debug"), ".log", fileFormatter, tag)
		loggerInstance.AddHook(debugHook)
		allHooks = append(allHooks, debugHook.RotatingFileHook)
	}

	return loggerInstance, allHooks, nil
}

// CloseAllFileHooks closes every file opened by the hooks.
func CloseAllFileHooks(logger *logrus.Logger, hooks []*RotatingFileHook) {
	for _, hook := range hooks {
		if err := hook.close(); err != nil {
			logger.Errorf("Failed to close log file %s: %v", hook.filePath, err)
		}
	}
}
