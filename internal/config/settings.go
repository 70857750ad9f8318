// Package config loads dirmirror settings. Later layers win: embedded
// defaults, the TOML file, DIRMIRROR_* environment variables, then explicit
// overrides from flags.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dirmirror/internal/config/tomlkeys"

	"github.com/go-playground/validator/v10"
)

const EnvPrefix = "DIRMIRROR_"

//go:embed defaults.toml
var defaultsPayload []byte

type Settings struct {
	Mirror  MirrorSettings
	Server  ServerSettings
	Log     LogSettings
	Observe ObserveSettings
	KV      KVSettings
	Otel    OtelSettings
}

type MirrorSettings struct {
	Root        string `validate:"required"`
	Name        string `validate:"required,excludesall=/,ne=api,ne=ws,ne=metrics"`
	EventBuffer int64  `validate:"gte=1"`
}

type ServerSettings struct {
	Addr                string `validate:"required,hostname_port"`
	AuthToken           string
	ReadHeaderTimeoutMS int64 `validate:"gte=0"`
	ShutdownTimeoutMS   int64 `validate:"gte=0"`
}

type LogSettings struct {
	Level  string `validate:"oneof=debug info warning warn error"`
	Format string `validate:"oneof=logfmt json text"`
}

type ObserveSettings struct {
	EventsPerSecond float64 `validate:"gte=0"`
	Burst           int64   `validate:"gte=1"`
}

type KVSettings struct {
	Enabled   bool
	Name      string `validate:"required_if=Enabled true,excludesall=/,ne=api,ne=ws,ne=metrics"`
	SeedFile  string
	Separator string `validate:"required"`
}

type OtelSettings struct {
	Enabled            bool
	Endpoint           string `validate:"required_if=Enabled true"`
	ServiceName        string
	ResourceAttributes string
}

// Keys lists every recognised setting in its normalized form.
func Keys() []string {
	store, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return nil
	}
	return store.Keys()
}

// DefaultsPayload returns the embedded defaults document.
func DefaultsPayload() []byte {
	payload := make([]byte, len(defaultsPayload))
	copy(payload, defaultsPayload)
	return payload
}

// Load builds Settings from the layers. A missing file at path is not an
// error; an unreadable or malformed one is. String overrides are parsed to
// the type of the setting they replace.
func Load(path string, overrides map[string]any) (Settings, error) {
	return load(path, os.LookupEnv, overrides)
}

func load(path string, lookupEnv func(string) (string, bool), overrides map[string]any) (Settings, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode defaults: %w", err)
	}
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return Settings{}, fmt.Errorf("decode %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				if _, known := values[key]; !known {
					return Settings{}, fmt.Errorf("%s: unknown setting %q", path, key)
				}
				values[key] = value
			}
		}
	}

	for _, key := range defaultsStore.Keys() {
		raw, ok := lookupEnv(EnvName(key))
		if !ok {
			continue
		}
		parsed, err := parseLike(values[key], raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", EnvName(key), err)
		}
		values[key] = parsed
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		current, known := values[normalized]
		if !known {
			return Settings{}, fmt.Errorf("unknown setting %q", key)
		}
		if raw, ok := value.(string); ok {
			parsed, err := parseLike(current, raw)
			if err != nil {
				return Settings{}, fmt.Errorf("%s: %w", key, err)
			}
			value = parsed
		}
		values[normalized] = value
	}

	settings := Settings{}
	settings.Mirror.Root = stringSetting(values, "mirror.root")
	settings.Mirror.Name = stringSetting(values, "mirror.name")
	settings.Mirror.EventBuffer = intSetting(values, "mirror.event-buffer")
	settings.Server.Addr = stringSetting(values, "server.addr")
	settings.Server.AuthToken = stringSetting(values, "server.auth-token")
	settings.Server.ReadHeaderTimeoutMS = intSetting(values, "server.read-header-timeout-ms")
	settings.Server.ShutdownTimeoutMS = intSetting(values, "server.shutdown-timeout-ms")
	settings.Log.Level = strings.ToLower(stringSetting(values, "log.level"))
	settings.Log.Format = strings.ToLower(stringSetting(values, "log.format"))
	settings.Observe.EventsPerSecond = floatSetting(values, "observe.events-per-second")
	settings.Observe.Burst = intSetting(values, "observe.burst")
	settings.KV.Enabled = boolSetting(values, "kv.enabled")
	settings.KV.Name = stringSetting(values, "kv.name")
	settings.KV.SeedFile = stringSetting(values, "kv.seed-file")
	settings.KV.Separator = stringSetting(values, "kv.separator")
	settings.Otel.Enabled = boolSetting(values, "otel.enabled")
	settings.Otel.Endpoint = stringSetting(values, "otel.endpoint")
	settings.Otel.ServiceName = stringSetting(values, "otel.service-name")
	settings.Otel.ResourceAttributes = stringSetting(values, "otel.resource-attributes")

	if err := Validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

var validate = validator.New()

func Validate(settings Settings) error {
	if err := validate.Struct(settings); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if settings.KV.Enabled && settings.KV.Name == settings.Mirror.Name {
		return fmt.Errorf("config validation failed: kv.name and mirror.name are both %q", settings.Mirror.Name)
	}
	return nil
}

// EnvName maps a setting key to its environment variable,
// "mirror.event-buffer" to DIRMIRROR_MIRROR_EVENT_BUFFER.
func EnvName(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(replacer.Replace(key))
}

// parseLike converts raw to the type of the default value it replaces.
func parseLike(current any, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch current.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int64:
		return strconv.ParseInt(raw, 10, 64)
	case float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func intSetting(values map[string]any, key string) int64 {
	if parsed, ok := asInt64(values[key]); ok {
		return parsed
	}
	return 0
}

func floatSetting(values map[string]any, key string) float64 {
	switch typed := values[key].(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	}
	if parsed, ok := asInt64(values[key]); ok {
		return float64(parsed)
	}
	return 0
}

func stringSetting(values map[string]any, key string) string {
	if parsed, ok := values[key].(string); ok {
		return strings.TrimSpace(parsed)
	}
	return ""
}

func boolSetting(values map[string]any, key string) bool {
	parsed, _ := values[key].(bool)
	return parsed
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}
