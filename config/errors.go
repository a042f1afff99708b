package config

import "fmt"

type ErrYAMLParse struct {
	Msg string
}

func (e ErrYAMLParse) Error() string {
	return fmt.Sprintf("yaml parse error: %s", e.Msg)
}

type ErrFileNotExist struct {
	Msg string
}

func (e ErrFileNotExist) Error() string {
	return fmt.Sprintf("file does not exist: %s", e.Msg)
}

// ErrInvalidConfig is returned when a config value is outside what the daemon accepts,
// Key is the YAML key of the offending value.
type ErrInvalidConfig struct {
	Key string
	Msg string
}

func (e ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid %s; %s", e.Key, e.Msg)
}

func negative[T int | int64](key string, v T) error {
	if v < 0 {
		return ErrInvalidConfig{Key: key, Msg: fmt.Sprintf("'%d' cannot be negative", v)}
	}
	return nil
}
