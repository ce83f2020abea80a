package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Initialize default logger instance, console only
func init() {
	logger, err := New(DefaultConfig())
	if err != nil {
		log.Printf("Failed to initialize default logger: %v, using standard log", err)
		return
	}
	defaultLogger = logger
}

// InitFromConfig initializes the logger from configuration
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	mu.Lock()
	previous := defaultLogger
	defaultLogger = logger
	mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// SetLevel changes the level of the default logger
func SetLevel(level string) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	if l := current(); l != nil {
		l.SetLevel(logLevel)
	}
	return nil
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Debug(format, args...)
	} else {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Info(format, args...)
	} else {
		log.Printf("[INFO] "+format, args...)
	}
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Warn(format, args...)
	} else {
		log.Printf("[WARN] "+format, args...)
	}
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Error(format, args...)
	} else {
		log.Printf("[ERROR] "+format, args...)
	}
}

// Close closes the logger
func Close() error {
	if l := current(); l != nil {
		return l.Close()
	}
	return nil
}
