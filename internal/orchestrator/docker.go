package orchestrator

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// DockerOrchestrator talks to a Docker daemon over its API. TLS client
// material is optional and only needed for remote daemons secured with
// mTLS.
type DockerOrchestrator struct {
	logger zerolog.Logger
	host   string // empty means environment/default socket

	caCertPEM     string
	clientCertPEM string
	clientKeyPEM  string
}

// NewDockerOrchestrator creates a DockerOrchestrator for the local daemon.
func NewDockerOrchestrator(logger zerolog.Logger, host string) *DockerOrchestrator {
	return &DockerOrchestrator{
		logger: logger.With().Str("component", "docker").Logger(),
		host:   host,
	}
}

// WithTLS sets mTLS client material for a remote daemon.
func (d *DockerOrchestrator) WithTLS(caCertPEM, clientCertPEM, clientKeyPEM string) *DockerOrchestrator {
	d.caCertPEM = caCertPEM
	d.clientCertPEM = clientCertPEM
	d.clientKeyPEM = clientKeyPEM
	return d
}

func (d *DockerOrchestrator) newClient() (*client.Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if d.host != "" {
		opts = append(opts, client.WithHost(d.host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	if d.caCertPEM != "" && d.clientCertPEM != "" && d.clientKeyPEM != "" {
		cert, err := tls.X509KeyPair([]byte(d.clientCertPEM), []byte(d.clientKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse client cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM([]byte(d.caCertPEM))

		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					RootCAs:      caCertPool,
				},
			},
		}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}

	return client.NewClientWithOpts(opts...)
}

// Restart restarts the named container.
func (d *DockerOrchestrator) Restart(ctx context.Context, service string) error {
	cli, err := d.newClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	d.logger.Info().Str("service", service).Msg("restarting container")
	if err := cli.ContainerRestart(ctx, service, container.StopOptions{}); err != nil {
		return fmt.Errorf("restart container %s: %w", service, err)
	}
	return nil
}

// IsRunning inspects the named container.
func (d *DockerOrchestrator) IsRunning(ctx context.Context, service string) (bool, error) {
	cli, err := d.newClient()
	if err != nil {
		return false, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	info, err := cli.ContainerInspect(ctx, service)
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", service, err)
	}
	return info.State.Running, nil
}
