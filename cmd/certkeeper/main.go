package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/ca"
	"github.com/edvin/certkeeper/internal/config"
	"github.com/edvin/certkeeper/internal/healthcheck"
	"github.com/edvin/certkeeper/internal/lifecycle"
	"github.com/edvin/certkeeper/internal/logging"
	"github.com/edvin/certkeeper/internal/orchestrator"
	"github.com/edvin/certkeeper/internal/schedule"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "provision":
		fs := flag.NewFlagSet("provision", flag.ExitOnError)
		profilePath := fs.String("f", "", "Path to service profile YAML file (required)")
		fs.Parse(os.Args[2:])

		svc, profile := loadService(*profilePath)
		m := newManager(cfg, logger)

		pair, err := m.Provision(ctx, svc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deployed certificate pair for %s:\n  key:   %s\n  chain: %s\n  expires: %s\n",
			svc.Domain, pair.KeyPath, pair.CertPath, pair.NotAfter.Format("2006-01-02"))

		if profile.HealthURL != "" {
			probe(ctx, profile.HealthURL, profile.HealthInsecure)
		}

	case "configure-renewal":
		fs := flag.NewFlagSet("configure-renewal", flag.ExitOnError)
		profilePath := fs.String("f", "", "Path to service profile YAML file (required)")
		fs.Parse(os.Args[2:])

		svc, _ := loadService(*profilePath)
		m := newManager(cfg, logger)

		if err := m.ConfigureRenewal(ctx, svc); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Renewal configured for %s:\n  hook:     %s\n  log:      %s\n  schedule: %s\n",
			svc.Domain, svc.HookPath(), svc.RenewalLogPath(), cfg.RenewSpec)

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ExitOnError)
		profilePath := fs.String("f", "", "Path to service profile YAML file (required)")
		dryRun := fs.Bool("dry-run", false, "Also perform a renewal dry run against the CA")
		hookTest := fs.Bool("hook-test", false, "Also invoke the deploy hook with synthetic renewal env")
		restore := fs.Bool("restore", true, "Restore the certificate pair after the hook test")
		fs.Parse(os.Args[2:])

		svc, _ := loadService(*profilePath)
		m := newManager(cfg, logger)

		report := m.ValidateRenewalSetup(ctx, svc, lifecycle.ValidateOptions{
			DryRunRenewal:        *dryRun,
			HookTest:             *hookTest,
			RestoreAfterHookTest: *restore,
		})
		printReport(report)
		if report.Failed() {
			os.Exit(1)
		}

	case "renew":
		fs := flag.NewFlagSet("renew", flag.ExitOnError)
		domain := fs.String("d", "", "Domain to run the renewal check for (required)")
		hook := fs.String("hook", "", "Deploy hook to run after a successful renewal")
		quiet := fs.Bool("quiet", false, "Suppress non-error output")
		force := fs.Bool("force", false, "Renew even outside the renewal window")
		fs.Parse(os.Args[2:])

		if *domain == "" {
			fmt.Fprintln(os.Stderr, "Error: -d flag is required")
			fs.Usage()
			os.Exit(1)
		}

		caClient := newCAClient(cfg, logger)
		err := caClient.Renew(ctx, *domain, ca.RenewOptions{
			DeployHook: *hook,
			Quiet:      *quiet,
			Force:      *force,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		profilePath := fs.String("f", "", "Path to service profile YAML file (required)")
		fs.Parse(os.Args[2:])

		svc, _ := loadService(*profilePath)
		caClient := newCAClient(cfg, logger)
		scheduler := newScheduler(cfg, logger)

		lin, err := caClient.Lineage(ctx, svc.Domain)
		if err != nil {
			fmt.Printf("%s: no lineage (%v)\n", svc.Domain, err)
		} else {
			days := int(lin.RemainingValidity(time.Now()).Hours() / 24)
			fmt.Printf("%s: lineage at %s, expires %s (%d days)\n",
				svc.Domain, lin.Path, lin.NotAfter.Format("2006-01-02"), days)
		}

		entries, err := scheduler.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, entry := range entries {
			if entry.Domain == svc.Domain {
				fmt.Printf("schedule: %s %s\n", entry.Spec, entry.Command)
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadService(profilePath string) (lifecycle.Service, *config.ServiceProfile) {
	if profilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -f flag is required")
		os.Exit(1)
	}
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return lifecycle.Service{
		Name:           profile.Service,
		Domain:         profile.Domain,
		BaseDir:        profile.BaseDir,
		DeployDir:      profile.DeployDir,
		KeyName:        profile.KeyName,
		CertName:       profile.CertName,
		RestartCommand: profile.RestartCommand(),
		HealthURL:      profile.HealthURL,
		HealthInsecure: profile.HealthInsecure,
	}, profile
}

func newCAClient(cfg *config.Config, logger zerolog.Logger) ca.Client {
	if cfg.CABackend == "acme" {
		selfBin, err := os.Executable()
		if err != nil {
			selfBin = "certkeeper"
		}
		return ca.NewACMEClient(logger, cfg.ACMEDirectoryURL, cfg.ACMEStateDir, cfg.ACMEListenAddr, selfBin)
	}
	return ca.NewCertbotClient(logger, cfg.CertbotBin, cfg.CertbotConfigDir)
}

func newScheduler(cfg *config.Config, logger zerolog.Logger) schedule.Scheduler {
	if cfg.Scheduler == "systemd" {
		return schedule.NewSystemdScheduler(logger, cfg.SystemdUnitDir)
	}
	return schedule.NewCrontabScheduler(logger)
}

func newManager(cfg *config.Config, logger zerolog.Logger) *lifecycle.Manager {
	orch := orchestrator.NewDockerOrchestrator(logger, cfg.DockerHost)
	if cfg.DockerCACert != "" && cfg.DockerClientCert != "" && cfg.DockerClientKey != "" {
		orch = orch.WithTLS(readPEM(cfg.DockerCACert), readPEM(cfg.DockerClientCert), readPEM(cfg.DockerClientKey))
	}
	return lifecycle.NewManager(logger, newCAClient(cfg, logger), newScheduler(cfg, logger), orch).
		WithRenewSpec(cfg.RenewSpec)
}

func readPEM(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read %s: %v\n", path, err)
		os.Exit(1)
	}
	return string(data)
}

func probe(ctx context.Context, url string, insecure bool) {
	result, err := healthcheck.Probe(ctx, url, insecure)
	if err != nil {
		fmt.Printf("health check %s: %v\n", url, err)
		return
	}
	fmt.Printf("health check %s: %d in %s\n", url, result.StatusCode, result.Latency.Round(time.Millisecond))
}

func printReport(report *lifecycle.ValidationReport) {
	fmt.Printf("Validation report for %s:\n", report.Domain)
	for _, check := range report.Checks {
		fmt.Printf("  [%-4s] %-22s %s\n", check.Status, check.Name, check.Detail)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  certkeeper provision -f <profile.yaml>
  certkeeper configure-renewal -f <profile.yaml>
  certkeeper validate -f <profile.yaml> [-dry-run] [-hook-test] [-restore]
  certkeeper renew -d <domain> [-hook <path>] [-quiet] [-force]
  certkeeper status -f <profile.yaml>

Commands:
  provision         Obtain (or copy) a certificate pair into the service's deploy directory
  configure-renewal Write the deploy hook and install the daily renewal schedule entry
  validate          Run the read-only renewal setup diagnostic
  renew             Run an immediate renewal check (used by embedded ACME schedule entries)
  status            Show lineage expiry and the installed schedule entry

Environment:
  CERTKEEPER_CA_BACKEND    certbot | acme (default certbot)
  CERTKEEPER_SCHEDULER     crontab | systemd (default crontab)
  CERTKEEPER_RENEW_SPEC    cron expression for the daily check (default "0 3 * * *")
  LOG_LEVEL                zerolog level (default info)`)
}
