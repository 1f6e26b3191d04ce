package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "scenegate"

// HomeDir returns the configuration home: ~/.scenegate
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures root exists with a default config and profile.
// Safe to call multiple times; only missing items are created.
func Bootstrap(root string, logger *zap.Logger) error {
	if root == "" {
		root = HomeDir()
	}

	for _, dir := range []string{root, filepath.Join(root, "profiles")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Default files, written only when missing
	defaults := map[string]string{
		filepath.Join(root, "config.yaml"):              defaultConfig,
		filepath.Join(root, "profiles", "default.yaml"): defaultProfile,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("Bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("Home directory OK", zap.String("home", root))
	}
	return nil
}

const defaultConfig = `# scenegate configuration
# Auto-generated on first launch, feel free to edit.
# Every key can be overridden with SCENEGATE_<SECTION>_<KEY>.

server:
  host: 0.0.0.0
  port: 18790
  mode: local                  # local | production

database:
  type: sqlite                 # sqlite | postgres | memory
  dsn: scenegate.db

log:
  level: info                  # debug | info | warn | error
  format: json                 # json | console

inference:
  provider: echo               # echo | openai
  base_url: http://localhost:8080/v1
  model: default
  timeout: 45s

prompt:
  default_tier: balanced       # fast | balanced | thorough
  include_admin_turns: false
  budget:
    total: 2048
    fixed_allowance: 768
    response_allowance: 300
    max_messages: 6

orchestrator:
  task_timeout: 60s
  archive_schedule: "@every 10m"
  archive_after: 1h

# Map external form field refs onto scenario fields.
intake:
  field_map: {}

profiles:
  watch: true
  default: default

redis:
  enabled: false
  addr: localhost:6379
`

const defaultProfile = `name: default
head: |
  You are a warm, attentive roleplay partner. Stay in the voice the scenario
  sets and answer as that character.
rules: |
  Keep every reply short, in character and consistent with the scenario.
  Stop immediately and check in if the safeword is used.
`
