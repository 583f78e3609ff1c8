package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultLogFile      = "chaindb.log"
	defaultMaxSizeMB    = 100
	defaultMaxAgeInDays = 7
)

// LogConfig re-targets the package logger.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	// Stderr mirrors every line to standard error.
	Stderr bool
}

var (
	mu               sync.RWMutex
	lumberjackLogger = &lumberjack.Logger{
		Filename: getLogFilename(),
		MaxSize:  getIntEnv("LOGFILE_MAX_SIZE_MB", defaultMaxSizeMB), // megabytes
		MaxAge:   getIntEnv("LOGFILE_MAX_AGE_DAYS", defaultMaxAgeInDays),
	}

	logger = log.New(lumberjackLogger, "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

func getLogFilename() string {
	if logFile := os.Getenv("LOGFILE"); logFile != "" {
		return "./logs/" + logFile
	}
	return "./logs/" + defaultLogFile
}

func getIntEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// Init replaces the output of the package logger. Zero fields keep their
// defaults.
func Init(cfg LogConfig) {
	file := cfg.File
	if file == "" {
		file = getLogFilename()
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeInDays
	}
	_ = os.MkdirAll(filepath.Dir(file), 0o755)

	next := &lumberjack.Logger{
		Filename: file,
		MaxSize:  maxSize,
		MaxAge:   maxAge,
	}
	var out io.Writer = next
	if cfg.Stderr {
		out = io.MultiWriter(next, os.Stderr)
	}

	mu.Lock()
	prev := lumberjackLogger
	lumberjackLogger = next
	logger = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	mu.Unlock()

	_ = prev.Close()
}

// Close flushes and closes the current log file.
func Close() error {
	mu.RLock()
	defer mu.RUnlock()
	return lumberjackLogger.Close()
}

func output(color, level, category string, content []interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, level, category, ColorReset)
	mu.RLock()
	logger.Printf("%s: %s", coloredCategory, message)
	mu.RUnlock()
}

func Info(category string, content ...interface{}) {
	output(ColorGreen, "INFO", category, content)
}

func Error(category string, content ...interface{}) {
	output(ColorRed, "ERROR", category, content)
}

func Warn(category string, content ...interface{}) {
	output(ColorYellow, "WARN", category, content)
}

func Debug(category string, content ...interface{}) {
	output(ColorBlue, "DEBUG", category, content)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
