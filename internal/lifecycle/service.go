// Package lifecycle implements the certificate lifecycle manager: initial
// provisioning into a service's runtime directory, deploy-hook generation,
// renewal scheduling, and a read-only validation pass over the whole
// setup.
package lifecycle

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

const (
	defaultKeyName  = "server.key"
	defaultCertName = "server.crt"

	hookFileName   = "cert-deploy-hook.sh"
	renewalLogName = "certificate-renewal.log"
)

// Service describes one managed service instance: where its certificate
// pair lives and how to restart it after a renewal.
type Service struct {
	// Name is the container name the orchestrator restarts.
	Name string `validate:"required"`
	// Domain is the DNS name the certificate covers. One lineage per
	// domain.
	Domain string `validate:"required,fqdn"`
	// BaseDir holds the service's scripts/ directory and renewal log.
	BaseDir string `validate:"required"`
	// DeployDir is where the running service reads its key pair from.
	DeployDir string `validate:"required"`
	// KeyName and CertName are the deployed file names; service
	// convention (server.key/server.crt or private.key/public.crt).
	KeyName  string
	CertName string
	// RestartCommand is the shell command the deploy hook runs to restart
	// the service, e.g. "docker compose -f /opt/svc/docker-compose.yml
	// restart app".
	RestartCommand string `validate:"required"`
	// HealthURL, when set, is probed after a provision deploy and after a
	// hook test to confirm the service answers over the new certificate.
	HealthURL string `validate:"omitempty,url"`
	// HealthInsecure skips TLS verification on the health probe, for
	// services still serving a self-signed bootstrap certificate.
	HealthInsecure bool
}

var validate = validator.New()

// withDefaults fills in the default deployed file names.
func (s Service) withDefaults() Service {
	if s.KeyName == "" {
		s.KeyName = defaultKeyName
	}
	if s.CertName == "" {
		s.CertName = defaultCertName
	}
	return s
}

func (s Service) validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}
	return nil
}

// HookPath is the service-local deploy hook location.
func (s Service) HookPath() string {
	return filepath.Join(s.BaseDir, "scripts", hookFileName)
}

// RenewalLogPath is the append-only renewal event log.
func (s Service) RenewalLogPath() string {
	return filepath.Join(s.BaseDir, renewalLogName)
}

// DeployedKeyPath is the private key the service consumes.
func (s Service) DeployedKeyPath() string {
	return filepath.Join(s.DeployDir, s.KeyName)
}

// DeployedCertPath is the full chain the service consumes.
func (s Service) DeployedCertPath() string {
	return filepath.Join(s.DeployDir, s.CertName)
}
