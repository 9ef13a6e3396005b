package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/tandem/pkg/config"
)

func clearWorkspaceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOURCE_DIR", "PREVIEW_DIR", "SOURCE_TYPE", "EDITOR_PORT",
		"TANDEM_BIND", "TANDEM_SHELL", "TANDEM_RESPAWN_DELAY", "TANDEM_LOG_LEVEL",
		"TANDEM_LOG_FORMAT", "TANDEM_LOG_JSON", "TANDEM_NATS_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "/source", cfg.Workspace.SourceDir)
	assert.Equal(t, "/app/preview", cfg.Workspace.PreviewDir)
	assert.Equal(t, config.SourceTypeLocal, cfg.Workspace.SourceType)
	assert.Equal(t, ":3000", cfg.Server.Bind)
	assert.Equal(t, time.Second, cfg.Terminal.RespawnDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoadHierarchy(t *testing.T) {
	clearWorkspaceEnv(t)
	home := t.TempDir()
	project := t.TempDir()

	t.Setenv("HOME", home)

	userCfgDir := filepath.Join(home, ".tandem")
	require.NoError(t, os.MkdirAll(userCfgDir, 0o755))
	userCfg := `
workspace:
  source_dir: /user/source
  preview_dir: /user/preview
terminal:
  respawn_delay: 250ms
`
	require.NoError(t, os.WriteFile(filepath.Join(userCfgDir, "config.yaml"), []byte(userCfg), 0o644))

	projectCfgDir := filepath.Join(project, ".tandem")
	require.NoError(t, os.MkdirAll(projectCfgDir, 0o755))
	projectCfg := `
workspace:
  source_dir: /project/source
server:
  bind: 127.0.0.1:4000
`
	require.NoError(t, os.WriteFile(filepath.Join(projectCfgDir, "config.yaml"), []byte(projectCfg), 0o644))

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	require.NoError(t, os.Chdir(project))

	t.Setenv("SOURCE_TYPE", "GIT")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/project/source", cfg.Workspace.SourceDir, "project config should win over user config")
	assert.Equal(t, "/user/preview", cfg.Workspace.PreviewDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Terminal.RespawnDelay)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Bind)
	assert.Equal(t, config.SourceTypeGit, cfg.Workspace.SourceType, "env should win and be normalized")
}

func TestLoadFromPathRejectsInvalidSourceType(t *testing.T) {
	clearWorkspaceEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspace:\n  source_type: svn\n"), 0o644))

	_, err := config.LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source type")
}

func TestEnvOverrides(t *testing.T) {
	clearWorkspaceEnv(t)
	cfg := config.DefaultConfig()

	t.Setenv("SOURCE_DIR", "/env/src")
	t.Setenv("PREVIEW_DIR", "/env/preview")
	t.Setenv("EDITOR_PORT", "8080")
	t.Setenv("TANDEM_SHELL", "zsh")
	t.Setenv("TANDEM_RESPAWN_DELAY", "2s")
	t.Setenv("TANDEM_LOG_JSON", "1")
	config.ApplyEnvOverridesForTest(cfg)

	assert.Equal(t, "/env/src", cfg.Workspace.SourceDir)
	assert.Equal(t, "/env/preview", cfg.Workspace.PreviewDir)
	assert.Equal(t, ":8080", cfg.Server.Bind)
	assert.Equal(t, "zsh", cfg.Terminal.Shell)
	assert.Equal(t, 2*time.Second, cfg.Terminal.RespawnDelay)
	assert.Equal(t, "json", cfg.Logging.Format)

	t.Setenv("TANDEM_BIND", "127.0.0.1:9000")
	config.ApplyEnvOverridesForTest(cfg)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Bind, "TANDEM_BIND should win over EDITOR_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty source dir", func(c *config.Config) { c.Workspace.SourceDir = " " }},
		{"empty preview dir", func(c *config.Config) { c.Workspace.PreviewDir = "" }},
		{"bad bind", func(c *config.Config) { c.Server.Bind = "nope" }},
		{"negative respawn", func(c *config.Config) { c.Terminal.RespawnDelay = -time.Second }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidationWarnings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workspace.PreviewDir = cfg.Workspace.SourceDir
	cfg.Server.Bind = "127.0.0.1:3000"

	warnings := cfg.ValidationWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "same directory")

	cfg.Server.Bind = ":3000"
	assert.Len(t, cfg.ValidationWarnings(), 2)
}

func TestResolveRoots(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	cfg.Workspace.SourceDir = "~/site"
	cfg.Workspace.PreviewDir = "/tmp/preview/../preview"

	source, preview := config.ResolveRoots(cfg)
	assert.Equal(t, filepath.Join(home, "site"), source)
	assert.Equal(t, "/tmp/preview", preview)
}
