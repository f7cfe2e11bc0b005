// Package ca abstracts the certificate authority client that owns the
// on-disk lineage store. Two implementations exist: one shelling out to
// certbot, and an embedded ACME client using the standalone HTTP-01
// challenge.
package ca

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoLineage is returned by Lineage when the CA client has no record of
// the domain.
var ErrNoLineage = errors.New("no lineage for domain")

// Lineage is the CA client's record of a domain's current certificate:
// where the key material lives and when the leaf expires.
type Lineage struct {
	Domain   string
	Path     string // lineage directory, e.g. <configDir>/live/<domain>
	KeyFile  string // privkey.pem inside Path
	CertFile string // fullchain.pem inside Path

	NotAfter time.Time
}

// RemainingValidity returns how long the lineage's leaf certificate is
// still valid at the given instant. Negative when already expired.
func (l *Lineage) RemainingValidity(now time.Time) time.Duration {
	return l.NotAfter.Sub(now)
}

// RenewOptions control a renewal check invocation.
type RenewOptions struct {
	// DeployHook is run by the CA client after a successful renewal, with
	// RENEWED_DOMAINS and RENEWED_LINEAGE set. Empty means no hook.
	DeployHook string
	// Quiet suppresses non-error output.
	Quiet bool
	// DryRun performs the full validation against the CA without issuing a
	// certificate or touching the lineage.
	DryRun bool
	// Force renews even when the lineage is outside the renewal window.
	Force bool
}

// Client is the certificate authority client. Implementations own the
// lineage store; callers only read from it.
type Client interface {
	// Lineage returns the current lineage for the domain, or ErrNoLineage.
	Lineage(ctx context.Context, domain string) (*Lineage, error)

	// Obtain requests a new certificate via the standalone HTTP-01
	// challenge and returns the resulting lineage. Requires exclusive use
	// of the challenge port for the duration of the call.
	Obtain(ctx context.Context, domain string) (*Lineage, error)

	// Renew runs a renewal check scoped to the domain's lineage.
	Renew(ctx context.Context, domain string, opts RenewOptions) error

	// RenewCommand returns the shell command line a schedule entry should
	// run to perform the daily renewal check for the domain.
	RenewCommand(domain, deployHook string) string

	// DeployHookDir is the client's global deploy-hook directory. Hooks
	// linked there run for every renewed lineage.
	DeployHookDir() string
}

// leafNotAfter parses the first certificate in a PEM bundle and returns its
// expiry.
func leafNotAfter(bundle []byte) (time.Time, error) {
	block, _ := pem.Decode(bundle)
	if block == nil {
		return time.Time{}, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}

// readLineage builds a Lineage from a live directory containing
// privkey.pem and fullchain.pem. Returns ErrNoLineage when the directory
// or either file is missing.
func readLineage(domain, dir string) (*Lineage, error) {
	keyFile := filepath.Join(dir, "privkey.pem")
	certFile := filepath.Join(dir, "fullchain.pem")

	if _, err := os.Stat(keyFile); err != nil {
		return nil, ErrNoLineage
	}
	bundle, err := os.ReadFile(certFile)
	if err != nil {
		return nil, ErrNoLineage
	}

	notAfter, err := leafNotAfter(bundle)
	if err != nil {
		return nil, fmt.Errorf("lineage %s: %w", domain, err)
	}

	return &Lineage{
		Domain:   domain,
		Path:     dir,
		KeyFile:  keyFile,
		CertFile: certFile,
		NotAfter: notAfter,
	}, nil
}
