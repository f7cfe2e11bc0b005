package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CERTKEEPER_CA_BACKEND", "CERTKEEPER_CERTBOT_BIN",
		"CERTKEEPER_CERTBOT_CONFIG_DIR", "CERTKEEPER_SCHEDULER",
		"CERTKEEPER_RENEW_SPEC", "LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "certbot", cfg.CABackend)
	assert.Equal(t, "certbot", cfg.CertbotBin)
	assert.Equal(t, "/etc/letsencrypt", cfg.CertbotConfigDir)
	assert.Equal(t, "crontab", cfg.Scheduler)
	assert.Equal(t, "0 3 * * *", cfg.RenewSpec)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CERTKEEPER_CA_BACKEND", "acme")
	t.Setenv("CERTKEEPER_ACME_DIRECTORY_URL", "https://acme-staging-v02.api.letsencrypt.org/directory")
	t.Setenv("CERTKEEPER_SCHEDULER", "systemd")
	t.Setenv("CERTKEEPER_RENEW_SPEC", "30 2 * * *")
	t.Setenv("CERTKEEPER_DOCKER_CA_CERT", "/etc/docker/certs/ca.pem")
	t.Setenv("CERTKEEPER_DOCKER_CLIENT_CERT", "/etc/docker/certs/cert.pem")
	t.Setenv("CERTKEEPER_DOCKER_CLIENT_KEY", "/etc/docker/certs/key.pem")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.CABackend)
	assert.Equal(t, "https://acme-staging-v02.api.letsencrypt.org/directory", cfg.ACMEDirectoryURL)
	assert.Equal(t, "systemd", cfg.Scheduler)
	assert.Equal(t, "30 2 * * *", cfg.RenewSpec)
	assert.Equal(t, "/etc/docker/certs/ca.pem", cfg.DockerCACert)
	assert.Equal(t, "/etc/docker/certs/cert.pem", cfg.DockerClientCert)
	assert.Equal(t, "/etc/docker/certs/key.pem", cfg.DockerClientKey)
	assert.Equal(t, "debug", cfg.LogLevel)
}
