package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServiceProfile is the YAML description of one managed service: the
// domain, where its certificate pair is deployed, and how to restart it.
type ServiceProfile struct {
	Service        string `yaml:"service" validate:"required"`
	Domain         string `yaml:"domain" validate:"required,fqdn"`
	BaseDir        string `yaml:"base_dir" validate:"required"`
	DeployDir      string `yaml:"deploy_dir" validate:"required"`
	KeyName        string `yaml:"key_name"`
	CertName       string `yaml:"cert_name"`
	ComposeFile    string `yaml:"compose_file"`
	ComposeService string `yaml:"compose_service"`
	HealthURL      string `yaml:"health_url" validate:"omitempty,url"`
	HealthInsecure bool   `yaml:"health_insecure"`
}

var validate = validator.New()

// RestartCommand builds the shell command the deploy hook uses to restart
// the service. Compose-managed services restart through their compose
// file; anything else is restarted by container name.
func (p *ServiceProfile) RestartCommand() string {
	if p.ComposeFile != "" {
		svc := p.ComposeService
		if svc == "" {
			svc = p.Service
		}
		return fmt.Sprintf("docker compose -f %s restart %s", p.ComposeFile, svc)
	}
	return fmt.Sprintf("docker restart %s", p.Service)
}

// LoadProfile reads and validates a service profile file.
func LoadProfile(path string) (*ServiceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var profile ServiceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := validate.Struct(&profile); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &profile, nil
}
