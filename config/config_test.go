package config_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kapetan-io/dappq/config"
	"github.com/kapetan-io/dappq/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestApplyConfigFileErrs(t *testing.T) {
	tests := []struct {
		name        string
		file        config.File
		expectedErr string
	}{
		{
			name: "InvalidLoggingHandler",
			file: config.File{
				Logging: config.Logging{
					Handler: "invalid",
				},
			},
			expectedErr: "invalid handler; 'invalid' is not one of (color, text, json)",
		},
		{
			name: "NegativeMaxRequestSize",
			file: config.File{
				Server: config.Server{
					MaxRequestSize: -1,
				},
			},
			expectedErr: "invalid max-request-size; '-1' cannot be negative",
		},
		{
			name: "NegativeMaxWaitingRequests",
			file: config.File{
				Coordinator: config.Coordinator{
					MaxWaitingRequests: -10,
				},
			},
			expectedErr: "invalid max-waiting-requests; '-10' cannot be negative",
		},
		{
			name: "NegativeNotifyBufferSize",
			file: config.File{
				Coordinator: config.Coordinator{
					NotifyBufferSize: -1,
				},
			},
			expectedErr: "invalid notify-buffer-size; '-1' cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &daemon.Config{}
			err := config.ApplyConfigFile(conf, tt.file, io.Discard)
			require.Error(t, err)
			assert.Equal(t, tt.expectedErr, err.Error())
			assert.ErrorAs(t, err, &config.ErrInvalidConfig{})
		})
	}
}

func TestApplyConfigFile(t *testing.T) {
	yamlConfig := `
logging:
  level: debug
  handler: json
server:
  listen-address: localhost:9090
  max-request-size: 2048
coordinator:
  max-waiting-requests: 50
  notify-buffer-size: 5
`
	var file config.File
	require.NoError(t, yaml.Unmarshal([]byte(yamlConfig), &file))
	file.ConfigFile = "dappq.yaml"

	var buf bytes.Buffer
	var conf daemon.Config
	require.NoError(t, config.ApplyConfigFile(&conf, file, &buf))

	assert.Equal(t, "localhost:9090", conf.ListenAddress)
	assert.Equal(t, int64(2048), conf.MaxRequestSize)
	assert.Equal(t, 50, conf.MaxWaitingRequests)
	assert.Equal(t, 5, conf.NotifyBufferSize)

	assert.Contains(t, buf.String(), `"msg":"Loaded config from file"`)
	assert.True(t, conf.Log.Enabled(context.Background(), slog.LevelDebug+1))
	assert.False(t, conf.Log.Enabled(context.Background(), slog.LevelDebug))
}

func TestApplyConfigFileDefaults(t *testing.T) {
	var conf daemon.Config
	require.NoError(t, config.ApplyConfigFile(&conf, config.File{
		Logging: config.Logging{Handler: "text", Level: "error"},
	}, io.Discard))

	assert.Equal(t, daemon.DefaultListenAddress, conf.ListenAddress)
	assert.Equal(t, 1_000, conf.MaxWaitingRequests)
	assert.True(t, conf.Log.Enabled(context.Background(), slog.LevelError))
	assert.False(t, conf.Log.Enabled(context.Background(), slog.LevelWarn))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("NotExist", func(t *testing.T) {
		_, err := config.LoadFile(filepath.Join(dir, "missing.yaml"))
		require.Error(t, err)
		assert.ErrorAs(t, err, &config.ErrFileNotExist{})
	})

	t.Run("Empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0600))

		file, err := config.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, path, file.ConfigFile)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0600))

		_, err := config.LoadFile(path)
		require.Error(t, err)
		assert.ErrorAs(t, err, &config.ErrYAMLParse{})
	})

	t.Run("Valid", func(t *testing.T) {
		path := filepath.Join(dir, "dappq.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  listen-address: localhost:1111\n"), 0600))

		file, err := config.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "localhost:1111", file.Server.ListenAddress)
		assert.Equal(t, path, file.ConfigFile)
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Setenv("DAPPQ_LISTEN_ADDRESS", "localhost:7777")
		t.Setenv("DAPPQ_MAX_WAITING_REQUESTS", "25")

		file := config.File{
			Logging: config.Logging{Handler: "text"},
			Server:  config.Server{ListenAddress: "localhost:1111"},
		}
		require.NoError(t, config.LoadEnv(&file))
		assert.Equal(t, "localhost:7777", file.Server.ListenAddress)
		assert.Equal(t, 25, file.Coordinator.MaxWaitingRequests)
		// Not set in the environment
		assert.Equal(t, "text", file.Logging.Handler)
	})

	t.Run("EnvFile", func(t *testing.T) {
		// Restore the variable once the test completes, godotenv only sets
		// variables which are not already in the environment.
		t.Setenv("DAPPQ_LOG_LEVEL", "")
		require.NoError(t, os.Unsetenv("DAPPQ_LOG_LEVEL"))

		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("DAPPQ_LOG_LEVEL=debug-all\n"), 0600))

		var file config.File
		require.NoError(t, config.LoadEnv(&file, path))
		assert.Equal(t, "debug-all", file.Logging.Level)
	})

	t.Run("MissingEnvFile", func(t *testing.T) {
		var file config.File
		err := config.LoadEnv(&file, filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "while loading env files")
	})

	t.Run("InvalidValue", func(t *testing.T) {
		t.Setenv("DAPPQ_NOTIFY_BUFFER_SIZE", "not-a-number")

		var file config.File
		err := config.LoadEnv(&file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "while decoding environment")
	})
}
