package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"dirmirror/internal/cli"
	"dirmirror/internal/config"
	"dirmirror/internal/config/tomlkeys"
)

const defaultConfigPath = "dirmirror.toml"

type flagValues struct {
	ConfigPath string
	Overrides  map[string]any
	Help       bool
	Version    bool
}

// flagSettings maps convenience flags onto setting keys.
var flagSettings = []struct {
	name string
	key  string
	desc string
}{
	{name: "root", key: "mirror.root", desc: "Directory to mirror"},
	{name: "name", key: "mirror.name", desc: "URL segment the mirror is served under"},
	{name: "addr", key: "server.addr", desc: "HTTP listen address"},
	{name: "token", key: "server.auth-token", desc: "Bearer token required on every route"},
	{name: "log-level", key: "log.level", desc: "debug, info, warning or error"},
	{name: "log-format", key: "log.format", desc: "logfmt, json or text"},
	{name: "kv", key: "kv.enabled", desc: "Serve the key/value store (true/false)"},
	{name: "seed", key: "kv.seed-file", desc: "YAML file loaded into the key/value store"},
	{name: "otel", key: "otel.enabled", desc: "Export traces over OTLP/HTTP (true/false)"},
}

func parseFlags(args []string, output io.Writer) (flagValues, error) {
	fs := flag.NewFlagSet("dirmirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", defaultConfigPath, "Path to the TOML config file")
	var sets cli.StringList
	fs.Var(&sets, "set", "Override any setting as key=value (repeatable)")
	shorthand := make(map[string]*string, len(flagSettings))
	for _, setting := range flagSettings {
		shorthand[setting.name] = fs.String(setting.name, "", setting.desc+" ("+setting.key+")")
	}
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")
	fs.Usage = func() {
		printHelp(output, fs)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}
	if fs.NArg() > 0 {
		return flagValues{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	overrides, err := parseConfigOverrides(sets)
	if err != nil {
		return flagValues{}, err
	}
	visited := cli.Visited(fs)
	for _, setting := range flagSettings {
		if !visited[setting.name] {
			continue
		}
		if overrides == nil {
			overrides = make(map[string]any)
		}
		overrides[setting.key] = *shorthand[setting.name]
	}

	values := flagValues{
		ConfigPath: *configPath,
		Overrides:  overrides,
		Help:       helpVersion.Help,
		Version:    helpVersion.Version,
	}
	if values.Help {
		fs.Usage()
		return values, flag.ErrHelp
	}
	return values, nil
}

// parseConfigOverrides turns key=value entries into raw string overrides;
// config.Load parses each to its setting's type.
func parseConfigOverrides(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any)
	for _, entry := range entries {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("config override must be key=value: %q", entry)
		}
		normalizedKey := tomlkeys.NormalizeKey(key)
		if normalizedKey == "" {
			return nil, fmt.Errorf("config override key cannot be empty")
		}
		overrides[normalizedKey] = strings.TrimSpace(value)
	}
	return overrides, nil
}

func printHelp(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: dirmirror [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Serve a live, read-only mirror of a directory over HTTP.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fs.SetOutput(out)
	fs.PrintDefaults()
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Settings (env: "+config.EnvPrefix+"<SECTION>_<KEY>):")
	for _, key := range config.Keys() {
		fmt.Fprintf(out, "  %-34s %s\n", key, config.EnvName(key))
	}
}
