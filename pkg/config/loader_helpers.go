package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values only override when the
// key is present in the raw document.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Server.Bind != "" {
		base.Server.Bind = override.Server.Bind
	}
	if override.Server.StaticDir != "" {
		base.Server.StaticDir = override.Server.StaticDir
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = append([]string{}, override.Server.AllowedOrigins...)
	}
	if fieldSet(raw, "server", "max_clients") {
		base.Server.MaxClients = override.Server.MaxClients
	}

	if override.Workspace.SourceDir != "" {
		base.Workspace.SourceDir = override.Workspace.SourceDir
	}
	if override.Workspace.PreviewDir != "" {
		base.Workspace.PreviewDir = override.Workspace.PreviewDir
	}
	if override.Workspace.SourceType != "" {
		base.Workspace.SourceType = override.Workspace.SourceType
	}

	if override.Terminal.Shell != "" {
		base.Terminal.Shell = override.Terminal.Shell
	}
	if len(override.Terminal.Args) > 0 {
		base.Terminal.Args = append([]string{}, override.Terminal.Args...)
	}
	if fieldSet(raw, "terminal", "respawn_delay") {
		base.Terminal.RespawnDelay = override.Terminal.RespawnDelay
	}
	if override.Terminal.Banner != "" {
		base.Terminal.Banner = override.Terminal.Banner
	}

	if fieldSet(raw, "scripts", "rebuild") {
		base.Scripts.Rebuild = override.Scripts.Rebuild
	}
	if fieldSet(raw, "scripts", "sync") {
		base.Scripts.Sync = override.Scripts.Sync
	}
	if fieldSet(raw, "scripts", "min_interval") {
		base.Scripts.MinInterval = override.Scripts.MinInterval
	}

	if override.Bus.NATSURL != "" {
		base.Bus.NATSURL = override.Bus.NATSURL
	}
	if override.Bus.SubjectPrefix != "" {
		base.Bus.SubjectPrefix = override.Bus.SubjectPrefix
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
}

// fieldSet reports whether the nested key path exists in the raw YAML map.
func fieldSet(raw map[string]any, path ...string) bool {
	if raw == nil || len(path) == 0 {
		return false
	}
	current := raw
	for i, key := range path {
		val, ok := current[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	return false
}
