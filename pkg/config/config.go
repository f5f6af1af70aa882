package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	mu          sync.Mutex
	envFilePath string
	loaded      bool
)

// SetEnvFile selects an explicit env file. Its values override the process
// environment. Without it, a local .env is loaded without overriding.
func SetEnvFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	envFilePath = strings.TrimSpace(path)
	loaded = false
}

// New loads the env file once and decodes the environment into T.
func New[T any](prefix string) (*T, error) {
	if err := load(); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}

	return &conf, nil
}

func load() error {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return nil
	}

	if envFilePath != "" {
		if err := exportEnvironment(envFilePath); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := loadDotEnvIfExists(".env"); err != nil {
		return fmt.Errorf("failed to load default env file: %w", err)
	}

	loaded = true
	return nil
}

func loadDotEnvIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return godotenv.Load(filepath)
}

// exportEnvironment reads any format viper understands (.env, yaml, toml)
// and exports every key as an upper-cased environment variable.
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	if strings.HasSuffix(filepath, ".env") || !strings.Contains(filepath, ".") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		if err := os.Setenv(strings.ToUpper(k), fmt.Sprint(val)); err != nil {
			return err
		}
	}

	return nil
}
