package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/memoryllm/memproxy/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "memproxy.log"

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders entries as a single line: timestamp, level, message, then sorted fields.
type LogFormatter struct{}

// Format implements log.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")
	fmt.Fprintf(buffer, "[%s] [%s] %s", timestamp, strings.ToUpper(entry.Level.String()), message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is idempotent and safe to call multiple times.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(false)
		log.SetFormatter(&LogFormatter{})

		gin.DefaultWriter = log.StandardLogger().Writer()
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
	})
}

// SetLogLevel maps a textual level name onto logrus. Unknown names fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches the global log destination between stdout and a
// rotating file under cfg.LogDir. Calling it again after a config reload
// replaces the previous writer.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	outputMu.Lock()
	defer outputMu.Unlock()

	if cfg == nil || !cfg.LoggingToFile {
		closeFileWriterLocked()
		log.SetOutput(os.Stdout)
		return nil
	}

	dir := strings.TrimSpace(cfg.LogDir)
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	if fileWriter != nil && fileWriter.Filename == path {
		return nil
	}
	closeFileWriterLocked()

	fileWriter = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

func closeFileWriterLocked() {
	if fileWriter == nil {
		return
	}
	if err := fileWriter.Close(); err != nil {
		log.Errorf("failed to close log file: %v", err)
	}
	fileWriter = nil
}

// ApplyConfig sets the level and output from cfg.
func ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	SetLogLevel(cfg.LogLevel)
	return ConfigureLogOutput(cfg)
}
