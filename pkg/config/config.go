package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Source types select which root is authoritative for reads.
const (
	SourceTypeLocal = "local"
	SourceTypeGit   = "git"
)

// Default configuration values exported for documentation and validation
const (
	DefaultSourceDir         = "/source"
	DefaultPreviewDir        = "/app/preview"
	DefaultSourceType        = SourceTypeLocal
	DefaultPort              = "3000"
	DefaultBind              = ":" + DefaultPort
	DefaultRespawnDelay      = time.Second
	DefaultRebuildScript     = "/app/scripts/rebuild-preview.sh"
	DefaultSyncScript        = "/app/scripts/sync-code.sh"
	DefaultScriptMinInterval = 2 * time.Second
	DefaultSubjectPrefix     = "tandem.files"
	DefaultMaxClients        = 64
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Config represents the complete tandem configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
	Bus       BusConfig       `yaml:"bus"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxClients     int      `yaml:"max_clients"`
}

// WorkspaceConfig names the two directory roots and the source mode.
type WorkspaceConfig struct {
	SourceDir  string `yaml:"source_dir"`
	PreviewDir string `yaml:"preview_dir"`
	SourceType string `yaml:"source_type"` // local or git
}

// TerminalConfig controls shell spawning.
type TerminalConfig struct {
	Shell        string        `yaml:"shell"` // empty selects bash or powershell.exe
	Args         []string      `yaml:"args"`
	RespawnDelay time.Duration `yaml:"respawn_delay"`
	Banner       string        `yaml:"banner"`
}

// ScriptsConfig names the external rebuild/sync commands.
type ScriptsConfig struct {
	Rebuild     string        `yaml:"rebuild"`
	Sync        string        `yaml:"sync"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// BusConfig enables exporting file events to NATS.
type BusConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:       DefaultBind,
			MaxClients: DefaultMaxClients,
		},
		Workspace: WorkspaceConfig{
			SourceDir:  DefaultSourceDir,
			PreviewDir: DefaultPreviewDir,
			SourceType: DefaultSourceType,
		},
		Terminal: TerminalConfig{
			RespawnDelay: DefaultRespawnDelay,
		},
		Scripts: ScriptsConfig{
			Rebuild:     DefaultRebuildScript,
			Sync:        DefaultSyncScript,
			MinInterval: DefaultScriptMinInterval,
		},
		Bus: BusConfig{
			SubjectPrefix: DefaultSubjectPrefix,
			Name:          "tandem",
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// Load user config (~/.tandem/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".tandem", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.tandem/config.yaml)
	projectConfigPath := filepath.Join(".", ".tandem", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg, nil)
}

// applyEnvOverrides applies environment variable overrides. Values from the
// process environment win over ~/.tandem/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	// Deployment variables shared with the container image.
	if v := lookup("SOURCE_DIR"); v != "" {
		cfg.Workspace.SourceDir = v
	}
	if v := lookup("PREVIEW_DIR"); v != "" {
		cfg.Workspace.PreviewDir = v
	}
	if v := lookup("SOURCE_TYPE"); v != "" {
		cfg.Workspace.SourceType = strings.ToLower(v)
	}
	if v := lookup("EDITOR_PORT"); v != "" {
		cfg.Server.Bind = ":" + v
	}

	if v := lookup("TANDEM_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := lookup("TANDEM_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := lookup("TANDEM_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v := lookup("TANDEM_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.MaxClients = n
		}
	}
	if v := lookup("TANDEM_SHELL"); v != "" {
		cfg.Terminal.Shell = v
	}
	if v := lookup("TANDEM_RESPAWN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Terminal.RespawnDelay = d
		}
	}
	if v := lookup("TANDEM_REBUILD_SCRIPT"); v != "" {
		cfg.Scripts.Rebuild = v
	}
	if v := lookup("TANDEM_SYNC_SCRIPT"); v != "" {
		cfg.Scripts.Sync = v
	}
	if v := lookup("TANDEM_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := lookup("TANDEM_NATS_SUBJECT_PREFIX"); v != "" {
		cfg.Bus.SubjectPrefix = v
	}
	if v := lookup("TANDEM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := lookup("TANDEM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if val, ok := envBool("TANDEM_LOG_JSON"); ok && val {
		cfg.Logging.Format = "json"
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Workspace.SourceType {
	case SourceTypeLocal, SourceTypeGit:
	default:
		return fmt.Errorf("invalid source type: %s (must be local or git)", c.Workspace.SourceType)
	}
	if strings.TrimSpace(c.Workspace.SourceDir) == "" {
		return fmt.Errorf("workspace.source_dir is required")
	}
	if strings.TrimSpace(c.Workspace.PreviewDir) == "" {
		return fmt.Errorf("workspace.preview_dir is required")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if _, port, err := net.SplitHostPort(c.Server.Bind); err != nil || port == "" {
		return fmt.Errorf("invalid server.bind %q: expected host:port", c.Server.Bind)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients must be >= 0")
	}
	if c.Terminal.RespawnDelay < 0 {
		return fmt.Errorf("terminal.respawn_delay must be >= 0")
	}
	if c.Scripts.MinInterval < 0 {
		return fmt.Errorf("scripts.min_interval must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if filepath.Clean(c.Workspace.SourceDir) == filepath.Clean(c.Workspace.PreviewDir) {
		warnings = append(warnings, "workspace.source_dir and workspace.preview_dir are the same directory; mirroring is a no-op")
	}
	if !isLoopbackBindAddress(c.Server.Bind) {
		warnings = append(warnings, fmt.Sprintf("server.bind %q is reachable from the network and spawned shells are unauthenticated", c.Server.Bind))
	}
	return warnings
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, ".tandem", "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
