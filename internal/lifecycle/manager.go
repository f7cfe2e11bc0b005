package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/ca"
	"github.com/edvin/certkeeper/internal/orchestrator"
	"github.com/edvin/certkeeper/internal/schedule"
)

// defaultRenewSpec runs the renewal check daily at 03:00. The CA client
// itself decides whether the lineage is inside the renewal window, so the
// daily cadence doubles as the retry policy after a failed check.
const defaultRenewSpec = "0 3 * * *"

// expiryWarnWindow is the remaining validity below which validation warns.
const expiryWarnWindow = 30 * 24 * time.Hour

// Manager ties the CA client, the schedule store, and the orchestrator
// together. All operations are sequential; the only shared state is the
// external stores the collaborators own.
type Manager struct {
	logger    zerolog.Logger
	ca        ca.Client
	scheduler schedule.Scheduler
	orch      orchestrator.Orchestrator

	renewSpec string
	now       func() time.Time
}

// NewManager creates a Manager.
func NewManager(logger zerolog.Logger, caClient ca.Client, scheduler schedule.Scheduler, orch orchestrator.Orchestrator) *Manager {
	return &Manager{
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		ca:        caClient,
		scheduler: scheduler,
		orch:      orch,
		renewSpec: defaultRenewSpec,
		now:       time.Now,
	}
}

// WithRenewSpec overrides the daily renewal-check trigger.
func (m *Manager) WithRenewSpec(spec string) *Manager {
	m.renewSpec = spec
	return m
}

// CertificatePair is the deployed key/chain copy a service consumes.
type CertificatePair struct {
	KeyPath  string
	CertPath string
	NotAfter time.Time
}

// Provision guarantees a certificate pair exists in the service's deploy
// directory: it copies the existing lineage when the CA already knows the
// domain, and orders a new certificate via the standalone challenge
// otherwise. Failures are fatal to the calling setup flow.
func (m *Manager) Provision(ctx context.Context, svc Service) (*CertificatePair, error) {
	svc = svc.withDefaults()
	if err := svc.validate(); err != nil {
		return nil, &ProvisionError{Domain: svc.Domain, Err: err}
	}

	if err := os.MkdirAll(svc.DeployDir, 0755); err != nil {
		return nil, &ProvisionError{Domain: svc.Domain, Err: fmt.Errorf("create deploy dir: %w", err)}
	}

	lin, err := m.ca.Lineage(ctx, svc.Domain)
	if errors.Is(err, ca.ErrNoLineage) {
		m.logger.Info().Str("domain", svc.Domain).Msg("no existing lineage, requesting certificate")
		lin, err = m.ca.Obtain(ctx, svc.Domain)
	}
	if err != nil {
		return nil, &ProvisionError{Domain: svc.Domain, Err: err}
	}

	if err := copyCertFile(lin.KeyFile, svc.DeployedKeyPath(), 0600); err != nil {
		return nil, &ProvisionError{Domain: svc.Domain, Err: err}
	}
	if err := copyCertFile(lin.CertFile, svc.DeployedCertPath(), 0644); err != nil {
		return nil, &ProvisionError{Domain: svc.Domain, Err: err}
	}

	m.logger.Info().
		Str("domain", svc.Domain).
		Str("deploy_dir", svc.DeployDir).
		Time("not_after", lin.NotAfter).
		Msg("certificate pair deployed")

	return &CertificatePair{
		KeyPath:  svc.DeployedKeyPath(),
		CertPath: svc.DeployedCertPath(),
		NotAfter: lin.NotAfter,
	}, nil
}

// ConfigureRenewal writes the service's deploy hook, links it into the CA
// client's global deploy-hook directory, and installs the daily renewal
// schedule entry. Idempotent: the hook is overwritten in place and the
// schedule entry replaces any previous entry for the domain.
func (m *Manager) ConfigureRenewal(ctx context.Context, svc Service) error {
	svc = svc.withDefaults()
	if err := svc.validate(); err != nil {
		return &ConfigurationError{Domain: svc.Domain, Err: err}
	}

	hookPath, err := writeHook(svc)
	if err != nil {
		return &ConfigurationError{Domain: svc.Domain, Err: err}
	}

	if _, err := linkHookGlobally(hookPath, m.ca.DeployHookDir(), svc.Domain); err != nil {
		return &ConfigurationError{Domain: svc.Domain, Err: err}
	}

	entry := schedule.Entry{
		Domain:  svc.Domain,
		Spec:    m.renewSpec,
		Command: m.ca.RenewCommand(svc.Domain, hookPath),
	}
	if err := m.scheduler.Install(ctx, entry); err != nil {
		return &ConfigurationError{Domain: svc.Domain, Err: err}
	}

	m.logger.Info().
		Str("domain", svc.Domain).
		Str("hook", hookPath).
		Str("spec", m.renewSpec).
		Msg("renewal configured")
	return nil
}

// Renew runs an immediate renewal check for the service, outside the
// schedule. Used by the CLI renew subcommand the embedded ACME backend's
// schedule entries invoke.
func (m *Manager) Renew(ctx context.Context, svc Service, opts ca.RenewOptions) error {
	svc = svc.withDefaults()
	if opts.DeployHook == "" {
		opts.DeployHook = svc.HookPath()
	}
	return m.ca.Renew(ctx, svc.Domain, opts)
}

// copyCertFile copies certificate material, refusing empty sources: an
// empty key or chain means the CA client's run did not actually produce
// the files.
func copyCertFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", src)
	}
	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Chmod(dst, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}
