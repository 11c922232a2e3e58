package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/rjsadow/dolist/internal/todos"
)

// DefaultAPIURL is used when neither the config file nor DOLIST_API_URL
// names an API.
const DefaultAPIURL = "http://localhost:9000"

// Settings is the CLI configuration. Values are read from the config file
// first, then overridden by DOLIST_* environment variables.
type Settings struct {
	Token   string        `env:"TOKEN"`
	APIURL  string        `env:"API_URL"`
	Timeout time.Duration `env:"API_TIMEOUT"`
}

// fileSettings is the on-disk form of Settings.
type fileSettings struct {
	Token   string `toml:"token,omitempty"`
	APIURL  string `toml:"api_url,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

// DefaultConfigPath returns the per-user config file location,
// e.g. ~/.config/dolist/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(dir, "dolist", "config.toml"), nil
}

// LoadSettings reads path (a missing file is fine) and applies environment
// overrides. An empty path skips the file.
func LoadSettings(path string) (Settings, error) {
	s := Settings{APIURL: DefaultAPIURL, Timeout: todos.DefaultTimeout}

	if path != "" {
		fs, err := readFile(path)
		if err != nil {
			return Settings{}, err
		}
		if fs.Token != "" {
			s.Token = fs.Token
		}
		if fs.APIURL != "" {
			s.APIURL = fs.APIURL
		}
		if fs.Timeout != "" {
			d, err := time.ParseDuration(fs.Timeout)
			if err != nil {
				return Settings{}, fmt.Errorf("%s: timeout: %w", path, err)
			}
			s.Timeout = d
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Prefix: "DOLIST_"}); err != nil {
		return Settings{}, err
	}
	s.Token = stripBearer(strings.TrimSpace(s.Token))
	return s, nil
}

// SaveToken stores token in the config file at path, keeping other keys.
func SaveToken(path, token string) error {
	token = stripBearer(strings.TrimSpace(token))
	if token == "" {
		return errors.New("empty token")
	}
	fs, err := readFile(path)
	if err != nil {
		return err
	}
	fs.Token = token
	return writeFile(path, fs)
}

// DeleteToken forgets the stored token. The file is removed when nothing
// else is left in it.
func DeleteToken(path string) error {
	fs, err := readFile(path)
	if err != nil {
		return err
	}
	fs.Token = ""
	if fs == (fileSettings{}) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove: %w", err)
		}
		return nil
	}
	return writeFile(path, fs)
}

func readFile(path string) (fileSettings, error) {
	var fs fileSettings
	if _, err := toml.DecodeFile(path, &fs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSettings{}, nil
		}
		return fileSettings{}, fmt.Errorf("read %s: %w", path, err)
	}
	return fs, nil
}

func writeFile(path string, fs fileSettings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(fs); err != nil {
		f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	return f.Close()
}

func stripBearer(s string) string {
	if len(s) > 7 && strings.EqualFold(s[:7], "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
