package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
service: sharing-app
domain: share.example.com
base_dir: /opt/onprem-sharing
deploy_dir: /opt/onprem-sharing/certs
key_name: server.key
cert_name: server.crt
compose_file: /opt/onprem-sharing/docker-compose.yml
compose_service: app
health_url: https://share.example.com/health
health_insecure: true
`)

	profile, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "sharing-app", profile.Service)
	assert.Equal(t, "share.example.com", profile.Domain)
	assert.Equal(t, "docker compose -f /opt/onprem-sharing/docker-compose.yml restart app", profile.RestartCommand())
	assert.Equal(t, "https://share.example.com/health", profile.HealthURL)
	assert.True(t, profile.HealthInsecure)
}

func TestLoadProfile_MinIONaming(t *testing.T) {
	path := writeProfile(t, `
service: minio
domain: s3.example.com
base_dir: /opt/minio
deploy_dir: /opt/minio/certs
key_name: private.key
cert_name: public.crt
`)

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "private.key", profile.KeyName)
	assert.Equal(t, "public.crt", profile.CertName)
	assert.Equal(t, "docker restart minio", profile.RestartCommand())
}

func TestLoadProfile_InvalidDomain(t *testing.T) {
	path := writeProfile(t, `
service: minio
domain: "not a domain"
base_dir: /opt/minio
deploy_dir: /opt/minio/certs
`)

	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
