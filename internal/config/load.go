package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	yaml "go.yaml.in/yaml/v3"
)

// EnvToken overrides telegram.token when set.
const EnvToken = "STOCKWATCH_TELEGRAM_TOKEN"

// LocalPath returns the override file that sits next to path:
// "config.yaml" -> "config.local.yaml".
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads path over the built-in defaults, overlays the optional local
// file, applies the token environment variable and validates the result.
// Both files are decoded onto the same value, so any key present in a file
// wins, including explicit zeros and false.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	local := LocalPath(path)
	if err := decodeFile(local, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if tok := strings.TrimSpace(os.Getenv(EnvToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeFile decodes path onto cfg. Keys missing from the file leave cfg
// untouched; an empty file is a no-op.
func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if len(bytes.TrimSpace(jb)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s (%s): %w", path, format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("%s: trailing data", path)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// coerceToJSONBytes converts YAML and JSON5 input to JSON so one strict
// decoder (DisallowUnknownFields) serves every format.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	var (
		v      any
		format string
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, format, fmt.Errorf("yaml unmarshal: %w", err)
		}
		v = normalizeYAML(v)
	case ".json5":
		format = "json5"
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, format, nil
		}
		if err := json5.Unmarshal(data, &v); err != nil {
			return nil, format, fmt.Errorf("json5 unmarshal: %w", err)
		}
	default:
		return data, "json", nil
	}
	if v == nil {
		return nil, format, nil
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, format, fmt.Errorf("%s->json marshal: %w", format, err)
	}
	return j, format, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
