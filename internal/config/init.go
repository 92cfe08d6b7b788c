package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TokenLength is the length of a generated auth token.
const TokenLength = 16

const tokenAlphabet = "QWERTYUIOPASDFGHJKLZXCVBNMqwertyuiopasdfghjklzxcvbnm0123456789"

// GenerateToken returns a random alphanumeric token of length n.
//
// Precondition: n must be positive.
// Postcondition: Returns a string of exactly n characters drawn from [A-Za-z0-9].
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	limit := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("reading random index: %w", err)
		}
		buf[i] = tokenAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// LoadOrInit loads the configuration at path. When the file does not exist, a
// default configuration with a freshly generated auth token is written there first.
//
// Precondition: path must name a file in a writable directory.
// Postcondition: Returns a valid Config and whether a new file was created, or a non-nil error.
func LoadOrInit(path string) (Config, bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		cfg, err := Load(path)
		return cfg, false, err
	case !errors.Is(err, fs.ErrNotExist):
		return Config{}, false, fmt.Errorf("checking config file: %w", err)
	}

	if err := WriteDefault(path); err != nil {
		return Config{}, false, err
	}
	cfg, err := Load(path)
	return cfg, true, err
}

// WriteDefault writes the default configuration, with a generated auth token, to path.
//
// Postcondition: path contains a YAML document that Load accepts.
func WriteDefault(path string) error {
	token, err := GenerateToken(TokenLength)
	if err != nil {
		return fmt.Errorf("generating auth token: %w", err)
	}

	v := newViper()
	v.Set("auth.token", token)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
