package main

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/approval"
)

func TestResolveSecret_EmptyHandleYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", resolveSecret(""))
}

func TestResolveSecret_ReadsNamedEnvironmentVariable(t *testing.T) {
	t.Setenv("TEST_INCIDENTD_SECRET", "s3cr3t")
	assert.Equal(t, "s3cr3t", resolveSecret("TEST_INCIDENTD_SECRET"))
}

func TestResolveSecret_UnsetHandleYieldsEmptyString(t *testing.T) {
	os.Unsetenv("TEST_INCIDENTD_UNSET")
	assert.Equal(t, "", resolveSecret("TEST_INCIDENTD_UNSET"))
}

func TestBuildApprovalStore_DefaultsToMemoryStore(t *testing.T) {
	store, err := buildApprovalStore(config.ApprovalConfig{})
	assert.NoError(t, err)
	assert.IsType(t, &approval.MemoryStore{}, store)
}

func TestBuildApprovalStore_RedisAddressSelectsRedisStore(t *testing.T) {
	store, err := buildApprovalStore(config.ApprovalConfig{RedisAddress: "localhost:6379", RedisKeyPrefix: "test:"})
	assert.NoError(t, err)
	assert.IsType(t, &approval.RedisStore{}, store)
}

func TestNewLogger_DefaultsToJSONFormatter(t *testing.T) {
	log := newLogger(config.LoggingConfig{Level: "info", Format: ""})
	assert.NotNil(t, log)
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestNewLogger_TextFormat(t *testing.T) {
	log := newLogger(config.LoggingConfig{Level: "debug", Format: "text"})
	assert.NotNil(t, log)
}

func TestBuildAdapters_NoneEnabledReturnsEmptyMap(t *testing.T) {
	backends, err := buildAdapters(config.AdaptersConfig{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, backends)
}

func TestBuildAdapters_DocumentationOnlyOffline(t *testing.T) {
	backends, err := buildAdapters(config.AdaptersConfig{
		Documentation: config.DocumentationAdapterConfig{Enabled: true},
	}, nil)
	assert.NoError(t, err)
	assert.Contains(t, backends, "documentation")
}
