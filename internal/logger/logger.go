package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// instance holds the global logger state.
//
//nolint:gochecknoglobals // singleton pattern for logger state
var instance *zerolog.Logger

// Config controls the global logger.
type Config struct {
	Level      string `json:"level" toml:"level"`
	Debug      bool   `json:"debug" toml:"debug"`
	Output     string `json:"output" toml:"output"`
	TimeFormat string `json:"time_format" toml:"time_format"`
}

func initDefaults() {
	if instance == nil {
		zerolog.TimeFieldFormat = time.RFC3339
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		instance = &l
	}
}

// Init configures the singleton logger from Config. Safe to call once at
// process start; subsequent package-level helpers read from the instance it
// installs.
func Init(config *Config) error {
	initDefaults()

	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	l := zerolog.New(output).Level(level).With().Timestamp().Logger()
	instance = &l
	log.Logger = l

	return nil
}

func SetLevel(level zerolog.Level) {
	initDefaults()
	l := instance.Level(level)
	instance = &l
	log.Logger = l
}

func SetDebug(debug bool) {
	if debug {
		SetLevel(zerolog.DebugLevel)
	} else {
		SetLevel(zerolog.InfoLevel)
	}
}

func GetLogger() zerolog.Logger {
	initDefaults()
	return *instance
}

func Trace() *zerolog.Event {
	initDefaults()
	return instance.Trace()
}

func Debug() *zerolog.Event {
	initDefaults()
	return instance.Debug()
}

func Info() *zerolog.Event {
	initDefaults()
	return instance.Info()
}

func Warn() *zerolog.Event {
	initDefaults()
	return instance.Warn()
}

func Error() *zerolog.Event {
	initDefaults()
	return instance.Error()
}

func Fatal() *zerolog.Event {
	initDefaults()
	return instance.Fatal()
}

func Panic() *zerolog.Event {
	initDefaults()
	return instance.Panic()
}

func With() zerolog.Context {
	initDefaults()
	return instance.With()
}

func WithComponent(component string) zerolog.Logger {
	initDefaults()
	return instance.With().Str("component", component).Logger()
}

func WithFields(fields map[string]interface{}) zerolog.Logger {
	initDefaults()
	return instance.With().Fields(fields).Logger()
}

// stdLogger adapts the package-level singleton to the Logger interface, so
// components written against Logger can be handed the process-wide
// zerolog instance without each holding its own *zerolog.Logger.
type stdLogger struct{}

// Std returns a Logger backed by the singleton Init configures. Call Init
// first; Std itself just defers to the package-level functions above.
func Std() Logger {
	return stdLogger{}
}

func (stdLogger) Trace() *zerolog.Event { return Trace() }
func (stdLogger) Debug() *zerolog.Event { return Debug() }
func (stdLogger) Info() *zerolog.Event  { return Info() }
func (stdLogger) Warn() *zerolog.Event  { return Warn() }
func (stdLogger) Error() *zerolog.Event { return Error() }
func (stdLogger) Fatal() *zerolog.Event { return Fatal() }
func (stdLogger) Panic() *zerolog.Event { return Panic() }
func (stdLogger) With() zerolog.Context { return With() }

func (stdLogger) WithComponent(component string) zerolog.Logger {
	return WithComponent(component)
}

func (stdLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return WithFields(fields)
}

func (stdLogger) SetLevel(level zerolog.Level) { SetLevel(level) }
func (stdLogger) SetDebug(debug bool)          { SetDebug(debug) }
