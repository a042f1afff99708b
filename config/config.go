// Package config loads the dappq daemon configuration from a YAML file and the
// environment, and applies it to a daemon.Config.
//
// Values are applied in order: the YAML file, then `.env` files, then `DAPPQ_*`
// environment variables. A value set later overrides a value set earlier.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/kapetan-io/dappq/daemon"
	"github.com/kapetan-io/dappq/internal"
	"github.com/kapetan-io/errors"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
)

type File struct {
	Logging     Logging     `yaml:"logging"`
	Server      Server      `yaml:"server"`
	Coordinator Coordinator `yaml:"coordinator"`
	// ConfigFile is the path to the config file that was loaded
	ConfigFile string `yaml:"-"`
}

type Logging struct {
	Level   string `yaml:"level" env:"DAPPQ_LOG_LEVEL"`
	Handler string `yaml:"handler" env:"DAPPQ_LOG_HANDLER"`
}

type Server struct {
	ListenAddress  string `yaml:"listen-address" env:"DAPPQ_LISTEN_ADDRESS"`
	MaxRequestSize int64  `yaml:"max-request-size" env:"DAPPQ_MAX_REQUEST_SIZE"`
}

type Coordinator struct {
	MaxWaitingRequests int `yaml:"max-waiting-requests" env:"DAPPQ_MAX_WAITING_REQUESTS"`
	NotifyBufferSize   int `yaml:"notify-buffer-size" env:"DAPPQ_NOTIFY_BUFFER_SIZE"`
}

// LoadFile reads and parses the YAML config file at path
func LoadFile(path string) (File, error) {
	var file File

	reader, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, ErrFileNotExist{Msg: path}
		}
		return file, fmt.Errorf("while opening config file: %w", err)
	}
	defer func() { _ = reader.Close() }()

	if err := yaml.NewDecoder(reader).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid config
			file.ConfigFile = path
			return file, nil
		}
		return file, ErrYAMLParse{Msg: err.Error()}
	}
	file.ConfigFile = path
	return file, nil
}

// LoadEnv loads the provided `.env` files into the process environment, then decodes
// the `DAPPQ_*` environment variables over the values in file. Missing `.env` files
// are an error, environment variables which are not set leave file untouched.
func LoadEnv(file *File, envFiles ...string) error {
	if len(envFiles) != 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("while loading env files '%s': %w", strings.Join(envFiles, ","), err)
		}
	}

	for _, target := range []any{&file.Logging, &file.Server, &file.Coordinator} {
		if err := envdecode.Decode(target); err != nil {
			if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
				continue
			}
			return fmt.Errorf("while decoding environment: %w", err)
		}
	}
	return nil
}

// ApplyConfigFile applies the file to the daemon config, log output is written to w
func ApplyConfigFile(conf *daemon.Config, file File, w io.Writer) error {
	if err := setupLogger(file, w, conf); err != nil {
		return err
	}

	if err := negative("max-request-size", file.Server.MaxRequestSize); err != nil {
		return err
	}
	if err := negative("max-waiting-requests", file.Coordinator.MaxWaitingRequests); err != nil {
		return err
	}
	if err := negative("notify-buffer-size", file.Coordinator.NotifyBufferSize); err != nil {
		return err
	}

	conf.ListenAddress = file.Server.ListenAddress
	conf.MaxRequestSize = file.Server.MaxRequestSize
	conf.MaxWaitingRequests = file.Coordinator.MaxWaitingRequests
	conf.NotifyBufferSize = file.Coordinator.NotifyBufferSize

	// Apply defaults if there are required config items missing from the provided config file
	conf.SetDefaults()

	if file.ConfigFile != "" {
		conf.Log.Info("Loaded config from file", "file", file.ConfigFile)
	}
	return nil
}

func setupLogger(file File, w io.Writer, d *daemon.Config) error {
	switch file.Logging.Handler {
	case "color", "":
		d.Log = slog.New(tint.NewHandler(w, &tint.Options{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	case "text":
		d.Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	case "json":
		d.Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	default:
		return ErrInvalidConfig{Key: "handler",
			Msg: fmt.Sprintf("'%s' is not one of (color, text, json)", file.Logging.Handler)}
	}
}

func toLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug-all":
		return internal.LevelDebugAll
	case "debug":
		return internal.LevelDebug
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
