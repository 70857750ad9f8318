package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func noEnv(string) (string, bool) { return "", false }

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirmirror.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := load("", noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Mirror.Root != "." || settings.Mirror.Name != "files" {
		t.Fatalf("unexpected mirror settings %+v", settings.Mirror)
	}
	if settings.Mirror.EventBuffer != 256 {
		t.Fatalf("expected event buffer 256, got %d", settings.Mirror.EventBuffer)
	}
	if settings.Server.Addr != "127.0.0.1:5683" {
		t.Fatalf("unexpected addr %q", settings.Server.Addr)
	}
	if settings.Observe.EventsPerSecond != 50 || settings.Observe.Burst != 100 {
		t.Fatalf("unexpected observe settings %+v", settings.Observe)
	}
	if !settings.KV.Enabled || settings.KV.Separator != "." || settings.KV.Name != "properties" {
		t.Fatalf("unexpected kv settings %+v", settings.KV)
	}
	if settings.Otel.Enabled {
		t.Fatalf("expected otel disabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := load(filepath.Join(t.TempDir(), "absent.toml"), noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Mirror.Name != "files" {
		t.Fatalf("expected defaults, got %+v", settings.Mirror)
	}
}

func TestLoadLayerPrecedence(t *testing.T) {
	path := writeConfig(t, `
[mirror]
root = "/srv/data"
name = "data"

[log]
level = "debug"

[observe]
events-per-second = 10
`)
	env := envFrom(map[string]string{
		"DIRMIRROR_MIRROR_NAME":               "envname",
		"DIRMIRROR_MIRROR_EVENT_BUFFER":       "32",
		"DIRMIRROR_OBSERVE_BURST":             "5",
		"DIRMIRROR_KV_ENABLED":                "false",
		"DIRMIRROR_SERVER_AUTH_TOKEN":         "from-env",
		"DIRMIRROR_UNRELATED_SETTING":         "ignored",
		"DIRMIRROR_OBSERVE_EVENTS_PER_SECOND": "2.5",
	})
	settings, err := load(path, env, map[string]any{"mirror.name": "flagname"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Mirror.Root != "/srv/data" {
		t.Fatalf("expected file root, got %q", settings.Mirror.Root)
	}
	if settings.Mirror.Name != "flagname" {
		t.Fatalf("expected override to win, got %q", settings.Mirror.Name)
	}
	if settings.Mirror.EventBuffer != 32 {
		t.Fatalf("expected env event buffer, got %d", settings.Mirror.EventBuffer)
	}
	if settings.Log.Level != "debug" {
		t.Fatalf("expected file log level, got %q", settings.Log.Level)
	}
	if settings.Observe.EventsPerSecond != 2.5 || settings.Observe.Burst != 5 {
		t.Fatalf("unexpected observe settings %+v", settings.Observe)
	}
	if settings.KV.Enabled {
		t.Fatalf("expected kv disabled from env")
	}
	if settings.Server.AuthToken != "from-env" {
		t.Fatalf("expected env token, got %q", settings.Server.AuthToken)
	}
}

func TestLoadIntegerForFloatSetting(t *testing.T) {
	path := writeConfig(t, "[observe]\nevents-per-second = 7\n")
	settings, err := load(path, noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Observe.EventsPerSecond != 7 {
		t.Fatalf("expected 7, got %v", settings.Observe.EventsPerSecond)
	}
}

func TestLoadRejectsUnknownFileKey(t *testing.T) {
	path := writeConfig(t, "[mirror]\nrooot = \"/tmp\"\n")
	_, err := load(path, noEnv, nil)
	if err == nil || !strings.Contains(err.Error(), "mirror.rooot") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsUnknownOverride(t *testing.T) {
	if _, err := load("", noEnv, map[string]any{"mirror.nope": 1}); err == nil {
		t.Fatalf("expected unknown override error")
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	env := envFrom(map[string]string{"DIRMIRROR_MIRROR_EVENT_BUFFER": "lots"})
	_, err := load("", env, nil)
	if err == nil || !strings.Contains(err.Error(), "DIRMIRROR_MIRROR_EVENT_BUFFER") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "[mirror\n")
	if _, err := load(path, noEnv, nil); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "empty root", overrides: map[string]any{"mirror.root": ""}},
		{name: "slash in name", overrides: map[string]any{"mirror.name": "a/b"}},
		{name: "zero buffer", overrides: map[string]any{"mirror.event-buffer": 0}},
		{name: "bad level", overrides: map[string]any{"log.level": "loud"}},
		{name: "bad format", overrides: map[string]any{"log.format": "xml"}},
		{name: "bad addr", overrides: map[string]any{"server.addr": "nowhere"}},
		{name: "negative rate", overrides: map[string]any{"observe.events-per-second": -1.0}},
		{name: "empty separator", overrides: map[string]any{"kv.separator": ""}},
		{name: "kv name clash", overrides: map[string]any{"kv.name": "files"}},
		{name: "otel without endpoint", overrides: map[string]any{"otel.enabled": true, "otel.endpoint": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load("", noEnv, tc.overrides)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), "config validation failed") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("server.read-header-timeout-ms"); got != "DIRMIRROR_SERVER_READ_HEADER_TIMEOUT_MS" {
		t.Fatalf("unexpected env name %q", got)
	}
}

func TestKeysCoverEverySection(t *testing.T) {
	keys := strings.Join(Keys(), ",")
	for _, want := range []string{"mirror.root", "server.addr", "log.level", "observe.burst", "kv.seed-file", "otel.service-name"} {
		if !strings.Contains(keys, want) {
			t.Fatalf("expected %s in %s", want, keys)
		}
	}
}

func TestLoadParsesStringOverrides(t *testing.T) {
	settings, err := load("", noEnv, map[string]any{
		"mirror.event-buffer":       "64",
		"observe.events-per-second": "0.5",
		"kv.enabled":                "false",
		"server.auth-token":         "123",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Mirror.EventBuffer != 64 || settings.Observe.EventsPerSecond != 0.5 {
		t.Fatalf("unexpected parsed values %+v %+v", settings.Mirror, settings.Observe)
	}
	if settings.KV.Enabled || settings.Server.AuthToken != "123" {
		t.Fatalf("unexpected parsed values %+v %+v", settings.KV, settings.Server)
	}
	if _, err := load("", noEnv, map[string]any{"kv.enabled": "maybe"}); err == nil {
		t.Fatalf("expected parse error for bad bool override")
	}
}

func TestReservedNamesRejected(t *testing.T) {
	for _, name := range []string{"api", "ws", "metrics"} {
		if _, err := load("", noEnv, map[string]any{"mirror.name": name}); err == nil {
			t.Fatalf("expected %q to be rejected as mirror name", name)
		}
	}
}
