package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/edvin/certkeeper/internal/ca"
	"github.com/edvin/certkeeper/internal/healthcheck"
)

// CheckStatus is the outcome of one validation check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusFail CheckStatus = "fail"
	StatusWarn CheckStatus = "warn"
	StatusSkip CheckStatus = "skip"
)

// Check is one validation finding.
type Check struct {
	Name   string
	Status CheckStatus
	Detail string
}

// ValidationReport aggregates all findings of a validation pass. Checks
// are independent and never abort the pass; only the hook-content checks
// are skipped when the hook itself is missing.
type ValidationReport struct {
	Domain string
	Checks []Check
}

func (r *ValidationReport) add(name string, status CheckStatus, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

// Failed reports whether any check failed. Warnings do not count.
func (r *ValidationReport) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Check returns the named check, or nil.
func (r *ValidationReport) Check(name string) *Check {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// ValidateOptions enable the active probes. Both mutate nothing unless
// explicitly requested: the dry run is handled entirely by the CA, and the
// hook test backs up the deployed pair before invoking the hook.
type ValidateOptions struct {
	// DryRunRenewal performs a renewal check against the CA without
	// issuing a certificate.
	DryRunRenewal bool
	// HookTest invokes the deploy hook directly with synthetic
	// RENEWED_DOMAINS/RENEWED_LINEAGE and verifies the service is still
	// running afterwards, probing its health URL when the service
	// declares one.
	HookTest bool
	// RestoreAfterHookTest puts the pre-test certificate pair back and
	// removes the .bak copies.
	RestoreAfterHookTest bool
}

// ValidateRenewalSetup runs the read-only diagnostic over a service's
// renewal setup, and optionally the active probes.
func (m *Manager) ValidateRenewalSetup(ctx context.Context, svc Service, opts ValidateOptions) *ValidationReport {
	svc = svc.withDefaults()
	report := &ValidationReport{Domain: svc.Domain}

	// Lineage known to the CA client.
	lin, err := m.ca.Lineage(ctx, svc.Domain)
	if err != nil {
		lin = nil
		report.add("lineage", StatusFail, "no lineage for %s: %v", svc.Domain, err)
	} else {
		report.add("lineage", StatusPass, "lineage at %s, expires %s", lin.Path, lin.NotAfter.Format("2006-01-02"))
	}

	// Hook existence: service-local path preferred, CA global directory
	// as fallback.
	hookPath, localHook, hookFound := m.findHook(svc)
	if !hookFound {
		report.add("hook-exists", StatusFail, "no deploy hook at %s or in %s", svc.HookPath(), m.ca.DeployHookDir())
		for _, name := range []string{"hook-executable", "hook-domain", "hook-restart", "hook-linked"} {
			report.add(name, StatusSkip, "deploy hook missing")
		}
	} else {
		report.add("hook-exists", StatusPass, "deploy hook at %s", hookPath)
		m.checkHookContent(svc, hookPath, localHook, report)
	}

	m.checkSchedule(ctx, svc, hookPath, report)

	// Remaining lineage validity.
	if lin == nil {
		report.add("expiry-window", StatusSkip, "no lineage")
	} else {
		days := int(lin.RemainingValidity(m.now()).Hours() / 24)
		if days < 30 {
			report.add("expiry-window", StatusWarn, "certificate expires in %d days", days)
		} else {
			report.add("expiry-window", StatusPass, "certificate valid for %d more days", days)
		}
	}

	// Deployed pair present and non-empty.
	m.checkDeployedPair(svc, report)

	// Renewal log is only written by the hook, so its absence before the
	// first renewal is expected.
	if info, err := os.Stat(svc.RenewalLogPath()); err != nil {
		report.add("renewal-log", StatusWarn, "no renewal log at %s (no renewals recorded yet)", svc.RenewalLogPath())
	} else {
		report.add("renewal-log", StatusPass, "renewal log present (%d bytes)", info.Size())
	}

	if opts.DryRunRenewal {
		m.dryRunRenewal(ctx, svc, hookPath, report)
	}
	if opts.HookTest {
		m.hookTest(ctx, svc, lin, hookPath, hookFound, opts.RestoreAfterHookTest, report)
	}

	return report
}

// findHook locates the deploy hook: the service-local script, then the
// global link name in the CA client's deploy-hook directory.
func (m *Manager) findHook(svc Service) (path string, local, found bool) {
	path = svc.HookPath()
	if _, err := os.Stat(path); err == nil {
		return path, true, true
	}
	global := filepath.Join(m.ca.DeployHookDir(), globalHookName(svc.Domain))
	if _, err := os.Stat(global); err == nil {
		return global, false, true
	}
	return path, false, false
}

func (m *Manager) checkHookContent(svc Service, hookPath string, localHook bool, report *ValidationReport) {
	info, err := os.Stat(hookPath)
	if err == nil && info.Mode()&0100 != 0 {
		report.add("hook-executable", StatusPass, "mode %s", info.Mode().Perm())
	} else {
		report.add("hook-executable", StatusFail, "hook is not owner-executable")
	}

	body, err := os.ReadFile(hookPath)
	if err != nil {
		report.add("hook-domain", StatusFail, "read hook: %v", err)
		report.add("hook-restart", StatusFail, "read hook: %v", err)
	} else {
		if strings.Contains(string(body), svc.Domain) {
			report.add("hook-domain", StatusPass, "hook references %s", svc.Domain)
		} else {
			report.add("hook-domain", StatusFail, "hook does not reference %s", svc.Domain)
		}
		if strings.Contains(string(body), svc.RestartCommand) {
			report.add("hook-restart", StatusPass, "hook restarts via %q", svc.RestartCommand)
		} else {
			report.add("hook-restart", StatusFail, "hook does not contain restart command %q", svc.RestartCommand)
		}
	}

	if !localHook {
		report.add("hook-linked", StatusSkip, "hook lives in the global deploy-hook directory")
		return
	}
	link := filepath.Join(m.ca.DeployHookDir(), globalHookName(svc.Domain))
	target, err := os.Readlink(link)
	switch {
	case err != nil:
		report.add("hook-linked", StatusFail, "no link to local hook in %s", m.ca.DeployHookDir())
	case filepath.Clean(target) != filepath.Clean(hookPath):
		report.add("hook-linked", StatusFail, "link points at %s, expected %s", target, hookPath)
	default:
		report.add("hook-linked", StatusPass, "%s -> %s", link, target)
	}
}

func (m *Manager) checkSchedule(ctx context.Context, svc Service, hookPath string, report *ValidationReport) {
	entries, err := m.scheduler.List(ctx)
	if err != nil {
		report.add("schedule-entry", StatusFail, "list schedule: %v", err)
		report.add("schedule-deploy-hook", StatusSkip, "schedule unreadable")
		return
	}

	for _, entry := range entries {
		if entry.Domain != svc.Domain {
			continue
		}
		report.add("schedule-entry", StatusPass, "entry %q at %q", entry.Command, entry.Spec)
		if strings.Contains(entry.Command, hookPath) {
			report.add("schedule-deploy-hook", StatusPass, "entry passes the deploy hook")
		} else {
			report.add("schedule-deploy-hook", StatusFail, "entry does not reference the deploy hook %s", hookPath)
		}
		return
	}
	report.add("schedule-entry", StatusFail, "no schedule entry for %s", svc.Domain)
	report.add("schedule-deploy-hook", StatusSkip, "no schedule entry")
}

func (m *Manager) checkDeployedPair(svc Service, report *ValidationReport) {
	missing := false
	for _, path := range []string{svc.DeployedKeyPath(), svc.DeployedCertPath()} {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			report.add("deployed-pair", StatusFail, "missing or empty %s", path)
			missing = true
			break
		}
	}
	if !missing {
		report.add("deployed-pair", StatusPass, "key and chain present in %s", svc.DeployDir)
	}
}

func (m *Manager) dryRunRenewal(ctx context.Context, svc Service, hookPath string, report *ValidationReport) {
	err := m.ca.Renew(ctx, svc.Domain, ca.RenewOptions{DeployHook: hookPath, DryRun: true})
	if err != nil {
		report.add("dry-run-renewal", StatusFail, "%v", err)
		return
	}
	report.add("dry-run-renewal", StatusPass, "CA dry run succeeded")
}

// hookTest invokes the deploy hook with synthetic environment variables,
// exactly as the CA client would after renewing this domain. The deployed
// pair is backed up to .bak first and restored on request.
func (m *Manager) hookTest(ctx context.Context, svc Service, lin *ca.Lineage, hookPath string, hookFound, restore bool, report *ValidationReport) {
	if !hookFound || lin == nil {
		report.add("hook-test", StatusSkip, "needs an existing hook and lineage")
		return
	}

	backups := map[string]string{}
	for _, path := range []string{svc.DeployedKeyPath(), svc.DeployedCertPath()} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		bak := path + ".bak"
		if err := copyPlain(path, bak); err != nil {
			report.add("hook-test", StatusFail, "backup %s: %v", path, err)
			return
		}
		backups[path] = bak
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", hookPath)
	cmd.Env = append(os.Environ(),
		"RENEWED_DOMAINS="+svc.Domain,
		"RENEWED_LINEAGE="+lin.Path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		report.add("hook-test", StatusFail, "hook exited with error: %s: %v", string(output), err)
	} else {
		report.add("hook-test", StatusPass, "hook ran cleanly")
	}

	if m.orch != nil {
		running, err := m.orch.IsRunning(ctx, svc.Name)
		switch {
		case err != nil:
			report.add("hook-test-service", StatusFail, "inspect %s: %v", svc.Name, err)
		case !running:
			report.add("hook-test-service", StatusFail, "%s is not running after the hook", svc.Name)
		default:
			report.add("hook-test-service", StatusPass, "%s running after the hook", svc.Name)
		}
	}

	if svc.HealthURL != "" {
		result, err := healthcheck.Probe(ctx, svc.HealthURL, svc.HealthInsecure)
		switch {
		case err != nil:
			report.add("hook-test-health", StatusFail, "probe %s: %v", svc.HealthURL, err)
		case !result.Healthy():
			report.add("hook-test-health", StatusFail, "%s answered %d after the hook", svc.HealthURL, result.StatusCode)
		default:
			report.add("hook-test-health", StatusPass, "%s answered %d in %s", svc.HealthURL, result.StatusCode, result.Latency.Round(time.Millisecond))
		}
	}

	if restore {
		for path, bak := range backups {
			if err := os.Rename(bak, path); err != nil {
				report.add("hook-test-restore", StatusFail, "restore %s: %v", path, err)
				return
			}
		}
		report.add("hook-test-restore", StatusPass, "restored %d files", len(backups))
	}
}

func copyPlain(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
