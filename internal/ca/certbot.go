package ca

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// CertbotClient drives a certbot installation. The lineage store is
// certbot's config directory (normally /etc/letsencrypt).
type CertbotClient struct {
	logger    zerolog.Logger
	bin       string
	configDir string

	// run executes the certbot binary. Swappable in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

// NewCertbotClient creates a CertbotClient. Empty bin or configDir fall
// back to "certbot" and "/etc/letsencrypt".
func NewCertbotClient(logger zerolog.Logger, bin, configDir string) *CertbotClient {
	if bin == "" {
		bin = "certbot"
	}
	if configDir == "" {
		configDir = "/etc/letsencrypt"
	}
	c := &CertbotClient{
		logger:    logger.With().Str("component", "certbot").Logger(),
		bin:       bin,
		configDir: configDir,
	}
	c.run = func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, c.bin, args...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return string(output), fmt.Errorf("%s %s: %s: %w", c.bin, strings.Join(args, " "), string(output), err)
		}
		return string(output), nil
	}
	return c
}

func (c *CertbotClient) liveDir(domain string) string {
	return filepath.Join(c.configDir, "live", domain)
}

// Lineage reads the live directory for the domain.
func (c *CertbotClient) Lineage(ctx context.Context, domain string) (*Lineage, error) {
	return readLineage(domain, c.liveDir(domain))
}

// Obtain requests a new certificate using the standalone HTTP-01
// challenge, registering without a contact email. The challenge needs
// exclusive use of port 80 while certbot runs.
func (c *CertbotClient) Obtain(ctx context.Context, domain string) (*Lineage, error) {
	c.logger.Info().Str("domain", domain).Msg("requesting certificate via standalone challenge")

	args := []string{
		"certonly",
		"--standalone",
		"--non-interactive",
		"--agree-tos",
		"--register-unsafely-without-email",
		"-d", domain,
	}
	if c.configDir != "/etc/letsencrypt" {
		args = append(args, "--config-dir", c.configDir)
	}
	if _, err := c.run(ctx, args...); err != nil {
		return nil, err
	}

	lin, err := c.Lineage(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("certbot finished but lineage for %s is incomplete: %w", domain, err)
	}
	return lin, nil
}

// Renew runs a renewal check scoped to the domain's lineage.
func (c *CertbotClient) Renew(ctx context.Context, domain string, opts RenewOptions) error {
	args := c.renewArgs(domain, opts)
	output, err := c.run(ctx, args...)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("domain", domain).Str("output", strings.TrimSpace(output)).Msg("renewal check finished")
	return nil
}

func (c *CertbotClient) renewArgs(domain string, opts RenewOptions) []string {
	args := []string{"renew", "--cert-name", domain}
	if c.configDir != "/etc/letsencrypt" {
		args = append(args, "--config-dir", c.configDir)
	}
	if opts.DeployHook != "" {
		args = append(args, "--deploy-hook", opts.DeployHook)
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.Force {
		args = append(args, "--force-renewal")
	}
	if opts.Quiet {
		args = append(args, "--quiet")
	}
	return args
}

// RenewCommand returns the daily renewal-check command line for a
// schedule entry.
func (c *CertbotClient) RenewCommand(domain, deployHook string) string {
	args := c.renewArgs(domain, RenewOptions{DeployHook: deployHook, Quiet: true})
	return c.bin + " " + strings.Join(args, " ")
}

// DeployHookDir returns certbot's global deploy-hook directory.
func (c *CertbotClient) DeployHookDir() string {
	return filepath.Join(c.configDir, "renewal-hooks", "deploy")
}
