package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "2006-01-02 15:04:05"

// BracketFormatter renders entries as
// [timestamp] [LEVEL] [file:line] message key=value
type BracketFormatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter
func (f *BracketFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	format := f.TimestampFormat
	if format == "" {
		format = defaultTimestampFormat
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(entry.Time.Format(format))
	b.WriteString("] [")
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteString("]")
	if entry.HasCaller() {
		fmt.Fprintf(&b, " [%s:%d]", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)

	// Stable field order keeps the lines diffable
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteString("\n")

	return []byte(b.String()), nil
}

// Init configures the shared logrus logger from configuration and returns
// it. Output goes to stdout, plus the given file when one is configured.
func Init(level, output string) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set log format
	logger.SetReportCaller(true)
	logger.SetFormatter(&BracketFormatter{
		TimestampFormat: defaultTimestampFormat,
	})

	// Set output
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if output != "" && output != "stdout" {
		// Ensure directory exists
		dir := filepath.Dir(output)
		if dir != "." && dir != ".." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}
