package schedule

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

const unitPrefix = "certkeeper-renew-"

// SystemdScheduler stores entries as oneshot service + timer unit pairs,
// for hosts where the renewal cadence is run by systemd instead of cron.
type SystemdScheduler struct {
	logger  zerolog.Logger
	unitDir string
}

// NewSystemdScheduler creates a SystemdScheduler. An empty unitDir falls
// back to /etc/systemd/system.
func NewSystemdScheduler(logger zerolog.Logger, unitDir string) *SystemdScheduler {
	if unitDir == "" {
		unitDir = "/etc/systemd/system"
	}
	return &SystemdScheduler{
		logger:  logger.With().Str("component", "systemd-scheduler").Logger(),
		unitDir: unitDir,
	}
}

func (s *SystemdScheduler) unitName(domain string) string {
	return unitPrefix + domain
}

func (s *SystemdScheduler) servicePath(domain string) string {
	return filepath.Join(s.unitDir, s.unitName(domain)+".service")
}

func (s *SystemdScheduler) timerPath(domain string) string {
	return filepath.Join(s.unitDir, s.unitName(domain)+".timer")
}

// List reads the managed unit files back into entries.
func (s *SystemdScheduler) List(ctx context.Context) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.unitDir, unitPrefix+"*.service"))
	if err != nil {
		return nil, fmt.Errorf("glob unit dir: %w", err)
	}

	var entries []Entry
	for _, path := range matches {
		base := strings.TrimSuffix(filepath.Base(path), ".service")
		domain := strings.TrimPrefix(base, unitPrefix)

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read unit %s: %w", path, err)
		}
		entries = append(entries, Entry{
			Domain:  domain,
			Spec:    parseUnitField(string(content), "; spec="),
			Command: parseExecCommand(string(content)),
		})
	}
	return entries, nil
}

// Install writes the unit pair and enables the timer. Rewriting the unit
// files for a domain is the replace step: systemd keys units by name, so
// a reinstall can never leave two timers behind.
func (s *SystemdScheduler) Install(ctx context.Context, entry Entry) error {
	calendar, err := cronSpecToOnCalendar(entry.Spec)
	if err != nil {
		return fmt.Errorf("invalid schedule spec %q: %w", entry.Spec, err)
	}

	serviceContent, err := renderUnit(serviceTemplate, unitData{Entry: entry, Calendar: calendar})
	if err != nil {
		return fmt.Errorf("render service unit: %w", err)
	}
	if err := os.WriteFile(s.servicePath(entry.Domain), []byte(serviceContent), 0644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}

	timerContent, err := renderUnit(timerTemplate, unitData{Entry: entry, Calendar: calendar})
	if err != nil {
		return fmt.Errorf("render timer unit: %w", err)
	}
	if err := os.WriteFile(s.timerPath(entry.Domain), []byte(timerContent), 0644); err != nil {
		return fmt.Errorf("write timer unit: %w", err)
	}

	if err := s.daemonReload(ctx); err != nil {
		return err
	}

	name := s.unitName(entry.Domain)
	cmd := exec.CommandContext(ctx, "systemctl", "enable", "--now", name+".timer")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("enable timer %s: %s: %w", name, string(output), err)
	}

	s.logger.Info().Str("domain", entry.Domain).Str("calendar", calendar).Msg("installed renewal timer")
	return nil
}

// Remove stops the timer and deletes the unit pair.
func (s *SystemdScheduler) Remove(ctx context.Context, domain string) error {
	name := s.unitName(domain)

	// May not be running; ignore errors.
	_ = exec.CommandContext(ctx, "systemctl", "stop", name+".timer").Run()
	_ = exec.CommandContext(ctx, "systemctl", "disable", name+".timer").Run()

	os.Remove(s.servicePath(domain))
	os.Remove(s.timerPath(domain))

	return s.daemonReload(ctx)
}

func (s *SystemdScheduler) daemonReload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemctl", "daemon-reload")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("daemon-reload: %s: %w", string(output), err)
	}
	return nil
}

var serviceTemplate = template.Must(template.New("service").Parse(`[Unit]
Description=Certificate renewal check for {{ .Domain }}; spec={{ .Spec }}
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
ExecStart=/bin/sh -c '{{ .Command }}'
`))

var timerTemplate = template.Must(template.New("timer").Parse(`[Unit]
Description=Timer for certificate renewal check for {{ .Domain }}

[Timer]
OnCalendar={{ .Calendar }}
Persistent=true
RandomizedDelaySec=300

[Install]
WantedBy=timers.target
`))

type unitData struct {
	Entry
	Calendar string
}

func renderUnit(tmpl *template.Template, data unitData) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseExecCommand pulls the scheduled command back out of a rendered
// service unit, stripping the quotes that keep systemd from word-splitting
// the sh -c argument.
func parseExecCommand(content string) string {
	return strings.Trim(parseUnitField(content, "ExecStart=/bin/sh -c "), "'")
}

// parseUnitField pulls a single-line field back out of a rendered unit.
func parseUnitField(content, prefix string) string {
	for _, line := range strings.Split(content, "\n") {
		if idx := strings.Index(line, prefix); idx >= 0 {
			return strings.TrimSpace(line[idx+len(prefix):])
		}
	}
	return ""
}

// cronSpecToOnCalendar converts a 5-field cron expression to systemd
// OnCalendar format.
func cronSpecToOnCalendar(spec string) (string, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return "", fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	var dowPart string
	if dow != "*" {
		dowMap := map[string]string{
			"0": "Sun", "1": "Mon", "2": "Tue", "3": "Wed",
			"4": "Thu", "5": "Fri", "6": "Sat", "7": "Sun",
		}
		if mapped, ok := dowMap[dow]; ok {
			dowPart = mapped + " "
		} else {
			dowPart = dow + " "
		}
	}

	convertStep := func(field string) string {
		if strings.HasPrefix(field, "*/") {
			return "0/" + field[2:]
		}
		return field
	}

	return fmt.Sprintf("%s*-%s-%s %s:%s:00", dowPart, month, dom, convertStep(hour), convertStep(minute)), nil
}
