package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetimport/internal/config"
	"github.com/JonMunkholm/sheetimport/internal/logging"
)

type commandContext struct {
	envFile  *string
	logLevel *string
	jsonOut  *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(envFile, logLevel *string, jsonOut *bool) *commandContext {
	return &commandContext{
		envFile:  envFile,
		logLevel: logLevel,
		jsonOut:  jsonOut,
	}
}

// loadEnv reads the env file. An explicit file must exist; the default
// .env is optional. Existing variables win over the file.
func (c *commandContext) loadEnv() error {
	path := strings.TrimSpace(*c.envFile)
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ensureConfig loads and validates the full configuration once.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) json() bool {
	return c.jsonOut != nil && *c.jsonOut
}

// logger writes to stderr so stdout carries only command output. The level
// comes from --log-level, then LOG_LEVEL, then warn.
func (c *commandContext) logger() *slog.Logger {
	level := strings.TrimSpace(*c.logLevel)
	if level == "" {
		level = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if level == "" {
		level = "warn"
	}
	return logging.New(os.Stderr, level, os.Getenv("LOG_FORMAT"))
}

// historyPath returns the local history database, HISTORY_LOCAL_PATH or a
// file under the user cache directory.
func (c *commandContext) historyPath() (string, error) {
	var section config.HistoryConfig
	if err := config.LoadInto(&section); err != nil {
		return "", err
	}
	if p := strings.TrimSpace(section.LocalPath); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(dir, "sheetimport", "history.db"), nil
}
