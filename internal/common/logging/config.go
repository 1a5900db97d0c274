package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

var validLogFormats = map[string]bool{
	FormatText: true,
	FormatJson: true,
}

// Config defines logging configuration.
type Config struct {
	// Log level, e.g. INFO, ERROR etc
	Level string
	// Logging format, either text or json
	Format string
}

// Configure applies c to the standard logrus logger.
func Configure(c Config) error {
	if err := validate(c); err != nil {
		return err
	}
	level, err := parseLogLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.SetFormatter(newFormatter(c.Format))
	return nil
}

func newFormatter(format string) log.Formatter {
	if strings.ToLower(format) == FormatJson {
		return &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
}

func validate(c Config) error {
	if _, err := parseLogLevel(c.Level); err != nil {
		return err
	}
	return validateLogFormat(c.Format)
}

func validateLogFormat(f string) error {
	if f == "" {
		return nil
	}
	_, ok := validLogFormats[strings.ToLower(f)]
	if !ok {
		formats := maps.Keys(validLogFormats)
		slices.Sort(formats)
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", f, formats)
	}
	return nil
}

func parseLogLevel(level string) (log.Level, error) {
	if level == "" {
		return log.InfoLevel, nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel, errors.Errorf("unknown level: %s", level)
	}
	return parsed, nil
}
