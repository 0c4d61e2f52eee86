package scheduler_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Sched.Tick)
	assert.Equal(t, 16, cfg.Sched.MaxConcurrent)
	assert.Equal(t, 2, cfg.Sched.MaxPerUser)
	assert.Equal(t, "pricerus.price.dropped", cfg.Kafka.Topic)
	assert.Equal(t, "pricerus-scheduler", cfg.LoggerConfig().App)
	assert.Equal(t, "pricerus-scheduler", cfg.OTELConfig().ServiceName)
	assert.Equal(t, "dev", cfg.OTELConfig().Environment)
	assert.Equal(t, "pricerus-scheduler", cfg.DB.ApplicationName)
	assert.Equal(t, 10, cfg.DB.ConnectAttempts)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sched:
  tick: 2s
  max_concurrent: 4
http:
  user_agents: ["ua-1", "ua-2"]
api:
  admin_keys: ["secret"]
`), 0o600))
	t.Setenv("SCHED_MAX_PER_USER", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Sched.Tick)
	assert.Equal(t, 4, cfg.Sched.MaxConcurrent)
	assert.Equal(t, 3, cfg.Sched.MaxPerUser)
	assert.Equal(t, []string{"ua-1", "ua-2"}, cfg.HTTP.UserAgents)
	assert.Equal(t, []string{"secret"}, cfg.API.AdminKeys)
}

func TestValidate_RejectsNonPositiveCeilings(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Sched.MaxConcurrent = 0
	cfg.Sched.Tick = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sched.max_concurrent")
	assert.Contains(t, err.Error(), "sched.tick")
}
