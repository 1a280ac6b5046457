// Package config loads the scanner's configuration by layering defaults, an
// environment variable pass, an optional TOML file overlay, and finally CLI
// flags, in that order of increasing precedence: a later layer overrides an
// earlier one for any field it sets.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/portscanner/internal/logger"
)

// Loader loads a configuration document into dst.
type Loader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// FileLoader loads configuration from a local TOML file, overlaying only the
// keys present in the file onto whatever dst already holds.
type FileLoader struct {
	Logger logger.Logger
}

func (f *FileLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	if f.Logger != nil {
		f.Logger.Info().Str("path", path).Msg("loaded configuration from file")
	}

	return nil
}
