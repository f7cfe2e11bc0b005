package schedule

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// markerPrefix tags the crontab lines this system owns. The domain after
// the colon keys the line for replacement.
const markerPrefix = "# certkeeper:"

// CrontabScheduler stores entries in the invoking user's crontab. Each
// managed line carries a trailing marker comment so reinstalling an entry
// replaces the previous line instead of appending a second one.
type CrontabScheduler struct {
	logger zerolog.Logger

	// read returns the current crontab, "" when none exists.
	read func(ctx context.Context) (string, error)
	// write replaces the whole crontab.
	write func(ctx context.Context, content string) error
}

// NewCrontabScheduler creates a CrontabScheduler backed by the crontab
// binary.
func NewCrontabScheduler(logger zerolog.Logger) *CrontabScheduler {
	s := &CrontabScheduler{
		logger: logger.With().Str("component", "crontab").Logger(),
	}
	s.read = func(ctx context.Context) (string, error) {
		output, err := exec.CommandContext(ctx, "crontab", "-l").CombinedOutput()
		if err != nil {
			// "no crontab for user" exits non-zero; treat as empty.
			if strings.Contains(string(output), "no crontab") {
				return "", nil
			}
			return "", fmt.Errorf("crontab -l: %s: %w", string(output), err)
		}
		return string(output), nil
	}
	s.write = func(ctx context.Context, content string) error {
		cmd := exec.CommandContext(ctx, "crontab", "-")
		cmd.Stdin = strings.NewReader(content)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("crontab -: %s: %w", string(output), err)
		}
		return nil
	}
	return s
}

// List returns the certkeeper-managed entries in the crontab.
func (s *CrontabScheduler) List(ctx context.Context) ([]Entry, error) {
	current, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return parseEntries(current), nil
}

// Install writes the entry, replacing any existing line for the domain.
func (s *CrontabScheduler) Install(ctx context.Context, entry Entry) error {
	current, err := s.read(ctx)
	if err != nil {
		return err
	}

	updated := replaceEntry(current, entry)
	if err := s.write(ctx, updated); err != nil {
		return err
	}

	s.logger.Info().Str("domain", entry.Domain).Str("spec", entry.Spec).Msg("installed renewal schedule entry")
	return nil
}

// Remove drops the domain's entry if present.
func (s *CrontabScheduler) Remove(ctx context.Context, domain string) error {
	current, err := s.read(ctx)
	if err != nil {
		return err
	}

	updated := removeEntry(current, domain)
	if updated == current {
		return nil
	}
	return s.write(ctx, updated)
}

func marker(domain string) string {
	return markerPrefix + domain
}

// parseEntries extracts managed entries from crontab text. A managed line
// is "<5-field spec> <command> # certkeeper:<domain>".
func parseEntries(crontab string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(crontab, "\n") {
		idx := strings.Index(line, markerPrefix)
		if idx < 0 {
			continue
		}
		domain := strings.TrimSpace(line[idx+len(markerPrefix):])
		job := strings.TrimSpace(line[:idx])

		fields := strings.Fields(job)
		if len(fields) < 6 {
			continue
		}
		entries = append(entries, Entry{
			Domain:  domain,
			Spec:    strings.Join(fields[:5], " "),
			Command: strings.Join(fields[5:], " "),
		})
	}
	return entries
}

// replaceEntry returns the crontab with the entry's line in place of any
// previous line for the same domain. Unmanaged lines pass through
// untouched.
func replaceEntry(crontab string, entry Entry) string {
	updated := removeEntry(crontab, entry.Domain)
	line := fmt.Sprintf("%s %s %s", entry.Spec, entry.Command, marker(entry.Domain))

	if updated == "" {
		return line + "\n"
	}
	return strings.TrimRight(updated, "\n") + "\n" + line + "\n"
}

// removeEntry returns the crontab without the domain's managed line.
func removeEntry(crontab string, domain string) string {
	if crontab == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(strings.TrimRight(crontab, "\n"), "\n") {
		if strings.HasSuffix(strings.TrimSpace(line), marker(domain)) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "\n") + "\n"
}
