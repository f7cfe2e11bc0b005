// Package schedule manages the host's recurring renewal-check jobs. The
// store is external shared state (the user's crontab or the systemd unit
// directory), so both implementations enforce replace-by-domain: installing
// an entry for a domain first removes whatever entry that domain already
// had.
package schedule

import "context"

// Entry is one renewal-check job. At most one entry exists per domain.
type Entry struct {
	// Domain keys the entry.
	Domain string
	// Spec is a 5-field cron expression for the daily trigger.
	Spec string
	// Command is the renewal-check command line, including the deploy-hook
	// argument.
	Command string
}

// Scheduler is the renewal schedule store.
type Scheduler interface {
	// List returns the entries this system manages. Foreign jobs in the
	// same store are ignored.
	List(ctx context.Context) ([]Entry, error)

	// Install adds the entry, replacing any existing entry for the same
	// domain. Never produces duplicates.
	Install(ctx context.Context, entry Entry) error

	// Remove deletes the domain's entry. Removing an absent entry is not
	// an error.
	Remove(ctx context.Context, domain string) error
}
