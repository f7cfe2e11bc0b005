package config

import (
	"os"
)

type Config struct {
	// CABackend selects the CA client: "certbot" or "acme".
	CABackend string
	// CertbotBin and CertbotConfigDir configure the certbot backend.
	CertbotBin       string
	CertbotConfigDir string
	// ACMEDirectoryURL, ACMEStateDir and ACMEListenAddr configure the
	// embedded ACME backend.
	ACMEDirectoryURL string
	ACMEStateDir     string
	ACMEListenAddr   string
	// Scheduler selects the renewal schedule store: "crontab" or
	// "systemd".
	Scheduler      string
	SystemdUnitDir string
	// RenewSpec is the 5-field cron expression for the daily renewal
	// check.
	RenewSpec string
	// DockerHost overrides the Docker daemon address; empty uses the
	// environment/default socket. The TLS paths carry mTLS client material
	// for a remote daemon; all three must be set to take effect.
	DockerHost       string
	DockerCACert     string
	DockerClientCert string
	DockerClientKey  string
	LogLevel         string
}

func Load() (*Config, error) {
	cfg := &Config{
		CABackend:        getEnv("CERTKEEPER_CA_BACKEND", "certbot"),
		CertbotBin:       getEnv("CERTKEEPER_CERTBOT_BIN", "certbot"),
		CertbotConfigDir: getEnv("CERTKEEPER_CERTBOT_CONFIG_DIR", "/etc/letsencrypt"),
		ACMEDirectoryURL: getEnv("CERTKEEPER_ACME_DIRECTORY_URL", "https://acme-v02.api.letsencrypt.org/directory"),
		ACMEStateDir:     getEnv("CERTKEEPER_ACME_STATE_DIR", "/var/lib/certkeeper"),
		ACMEListenAddr:   getEnv("CERTKEEPER_ACME_LISTEN_ADDR", ":80"),
		Scheduler:        getEnv("CERTKEEPER_SCHEDULER", "crontab"),
		SystemdUnitDir:   getEnv("CERTKEEPER_SYSTEMD_UNIT_DIR", "/etc/systemd/system"),
		RenewSpec:        getEnv("CERTKEEPER_RENEW_SPEC", "0 3 * * *"),
		DockerHost:       getEnv("CERTKEEPER_DOCKER_HOST", ""),
		DockerCACert:     getEnv("CERTKEEPER_DOCKER_CA_CERT", ""),
		DockerClientCert: getEnv("CERTKEEPER_DOCKER_CLIENT_CERT", ""),
		DockerClientKey:  getEnv("CERTKEEPER_DOCKER_CLIENT_KEY", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
