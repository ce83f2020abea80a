package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

var zapLevels = map[LogLevel]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// Logger represents the logger
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	file  *rotatingFile
}

// LoggerConfig represents the configuration for the logger
type LoggerConfig struct {
	// Log level
	Level LogLevel
	// Log file path, empty disables file output
	FilePath string
	// Maximum log file size in MB
	MaxSize int
	// Maximum number of backups
	MaxBackups int
	// Whether to log to console
	Console bool
}

// DefaultConfig returns default logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      INFO,
		MaxSize:    10, // 10MB
		MaxBackups: 5,
		Console:    true,
	}
}

// New creates a new logger
func New(config LoggerConfig) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapLevels[config.Level])

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encoderCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core
	if config.Console {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level))
	}

	var file *rotatingFile
	if config.FilePath != "" {
		var err error
		file, err = openRotatingFile(config.FilePath, config.MaxSize, config.MaxBackups)
		if err != nil {
			return nil, err
		}
		fileCfg := encoderCfg
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), file, level))
	}

	core := zapcore.NewTee(cores...)
	// report the caller of the package-level helpers (Debug -> Logger.Debug -> Logger.log)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(3))

	return &Logger{
		sugar: base.Sugar(),
		level: level,
		file:  file,
	}, nil
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(zapLevels[level])
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	for lvl, z := range zapLevels {
		if z == l.level.Level() {
			return lvl
		}
	}
	return INFO
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	switch level {
	case DEBUG:
		l.sugar.Debugf(format, args...)
	case INFO:
		l.sugar.Infof(format, args...)
	case WARN:
		l.sugar.Warnf(format, args...)
	default:
		l.sugar.Errorf(format, args...)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Close flushes buffered entries and closes the log file
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// rotatingFile is a size-rotated log file usable as a zapcore.WriteSyncer
type rotatingFile struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	maxSize     int64 // Unit: bytes
	maxBackups  int
	currentSize int64
}

func openRotatingFile(path string, maxSizeMB, maxBackups int) (*rotatingFile, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get log file info: %v", err)
	}

	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}

	return &rotatingFile{
		file:        file,
		filePath:    path,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxBackups:  maxBackups,
		currentSize: info.Size(),
	}, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, fmt.Errorf("log file %s is closed", r.filePath)
	}

	n, err := r.file.Write(p)
	r.currentSize += int64(n)
	if err != nil {
		return n, err
	}

	if r.currentSize >= r.maxSize {
		r.rotate()
	}
	return n, nil
}

func (r *rotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotate renames the current file with a timestamp suffix and reopens the path
func (r *rotatingFile) rotate() {
	r.file.Close()

	timestamp := time.Now().Format("20060102-150405.000")
	dir := filepath.Dir(r.filePath)
	base := filepath.Base(r.filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s%s", name, timestamp, ext))

	if err := os.Rename(r.filePath, backupPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}

	r.cleanOldLogs()

	file, err := os.OpenFile(r.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
		r.file = nil
		return
	}
	r.file = file
	r.currentSize = 0
}

// cleanOldLogs removes the oldest backups beyond maxBackups
func (r *rotatingFile) cleanOldLogs() {
	dir := filepath.Dir(r.filePath)
	base := filepath.Base(r.filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	matches, err := filepath.Glob(filepath.Join(dir, name+".*"+ext))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find old log files: %v\n", err)
		return
	}
	if len(matches) <= r.maxBackups {
		return
	}

	type fileInfo struct {
		path string
		time time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{match, info.ModTime()})
	}

	// oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].time.Before(files[j].time)
	})

	for i := 0; i < len(files)-r.maxBackups; i++ {
		os.Remove(files[i].path)
	}
}
