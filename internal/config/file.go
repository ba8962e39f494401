package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileEnvVar names the environment variable holding the path of an optional
// YAML settings file.
const FileEnvVar = "SERIESD_CONFIG_FILE"

// ErrEmptyConfigPath is returned when LoadFile is called with an empty path.
var ErrEmptyConfigPath = errors.New("config file path cannot be empty")

// LoadFile reads a YAML settings file of ENV-name to value pairs and exports
// every entry that is not already set in the process environment. Environment
// variables always win over file values, so the file acts as a deployment
// default layer underneath the usual Get* getters.
//
// Example file:
//
//	SERIESD_SERVER_PORT: "8100"
//	SERIESD_DATABASE_URL: "postgres://seriesd:***@db:5432/seriesd"
//	SERIESD_BLOB_PATH: "/var/lib/seriesd/blobs"
func LoadFile(path string) error {
	if path == "" {
		return ErrEmptyConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	settings := make(map[string]string)
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for key, value := range settings {
		if _, present := os.LookupEnv(key); present {
			continue
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to apply config key %s: %w", key, err)
		}
	}

	return nil
}

// LoadFileFromEnv applies the settings file named by SERIESD_CONFIG_FILE, if
// any. A missing variable is not an error; a set variable pointing to an
// unreadable or malformed file is.
func LoadFileFromEnv() error {
	path := os.Getenv(FileEnvVar)
	if path == "" {
		return nil
	}

	return LoadFile(path)
}
