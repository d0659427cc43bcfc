package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/config"
)

// New builds the root logger. Components derive their own with Named.
func New(cfg config.LoggingConfig, out io.Writer) hclog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "cradle",
		Level:      level,
		Output:     out,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
	})
}
