package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/config"
)

func TestRedactDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://app:****@db:5432/jobs?sslmode=disable",
		redactDSN("postgres://app:s3cret@db:5432/jobs?sslmode=disable"))
	assert.Equal(t, "postgres://db:5432/jobs", redactDSN("postgres://db:5432/jobs"))
}

func TestConfigureLogging(t *testing.T) {
	prevLevel, prevFormatter := log.GetLevel(), log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(prevLevel)
		log.SetFormatter(prevFormatter)
	})

	require.NoError(t, configureLogging(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	assert.Error(t, configureLogging(config.LogConfig{Level: "loud", Format: "text"}))
}

func TestRootCmd_HasServe(t *testing.T) {
	cmd, _, err := rootCmd().Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", cmd.Name())
	assert.NotNil(t, rootCmd().PersistentFlags().Lookup("config"))
}
