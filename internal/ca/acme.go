package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
)

// renewWindow is how close to expiry a lineage becomes eligible for
// renewal. Matches the usual Let's Encrypt guidance.
const renewWindow = 30 * 24 * time.Hour

// ACMEClient is an embedded ACME client solving standalone HTTP-01
// challenges. It maintains its own lineage store on disk under
// stateDir/live/<domain> with the same file names certbot uses, so deploy
// hooks work unchanged against either backend.
type ACMEClient struct {
	logger       zerolog.Logger
	directoryURL string
	stateDir     string
	listenAddr   string // challenge listener, normally ":80"
	selfBin      string // binary the schedule entry invokes for renewal checks
}

// NewACMEClient creates an ACMEClient. Registration is anonymous; no
// contact email is sent to the CA.
func NewACMEClient(logger zerolog.Logger, directoryURL, stateDir, listenAddr, selfBin string) *ACMEClient {
	if listenAddr == "" {
		listenAddr = ":80"
	}
	if selfBin == "" {
		selfBin = "certkeeper"
	}
	return &ACMEClient{
		logger:       logger.With().Str("component", "acme").Logger(),
		directoryURL: directoryURL,
		stateDir:     stateDir,
		listenAddr:   listenAddr,
		selfBin:      selfBin,
	}
}

func (a *ACMEClient) liveDir(domain string) string {
	return filepath.Join(a.stateDir, "live", domain)
}

// Lineage reads the live directory for the domain.
func (a *ACMEClient) Lineage(ctx context.Context, domain string) (*Lineage, error) {
	return readLineage(domain, a.liveDir(domain))
}

// Obtain orders a certificate and writes the lineage directory.
func (a *ACMEClient) Obtain(ctx context.Context, domain string) (*Lineage, error) {
	if err := a.order(ctx, domain, true); err != nil {
		return nil, err
	}
	return a.Lineage(ctx, domain)
}

// Renew re-issues the domain's certificate when it is inside the renewal
// window (or opts.Force is set) and then runs the deploy hook with the
// environment contract certbot uses: RENEWED_DOMAINS and RENEWED_LINEAGE.
func (a *ACMEClient) Renew(ctx context.Context, domain string, opts RenewOptions) error {
	lin, err := a.Lineage(ctx, domain)
	if err != nil {
		return fmt.Errorf("renew %s: %w", domain, err)
	}

	if opts.DryRun {
		// Validate the order and challenge without finalizing or touching
		// the lineage.
		return a.order(ctx, domain, false)
	}

	if !opts.Force && lin.RemainingValidity(time.Now()) > renewWindow {
		if !opts.Quiet {
			a.logger.Info().Str("domain", domain).Time("not_after", lin.NotAfter).Msg("certificate not yet due for renewal")
		}
		return nil
	}

	if err := a.order(ctx, domain, true); err != nil {
		return fmt.Errorf("renew %s: %w", domain, err)
	}

	if opts.DeployHook != "" {
		if err := a.runDeployHook(ctx, domain, opts.DeployHook); err != nil {
			return fmt.Errorf("deploy hook after renewing %s: %w", domain, err)
		}
	}
	return nil
}

func (a *ACMEClient) runDeployHook(ctx context.Context, domain, hook string) error {
	cmd := exec.CommandContext(ctx, hook)
	cmd.Env = append(os.Environ(),
		"RENEWED_DOMAINS="+domain,
		"RENEWED_LINEAGE="+a.liveDir(domain),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s: %w", hook, string(output), err)
	}
	return nil
}

// RenewCommand returns the renewal-check command a schedule entry runs.
// The embedded backend has no external renew binary, so the entry calls
// back into certkeeper itself.
func (a *ACMEClient) RenewCommand(domain, deployHook string) string {
	return fmt.Sprintf("%s renew -d %s -hook %s -quiet", a.selfBin, domain, deployHook)
}

// DeployHookDir mirrors certbot's layout inside the state directory.
func (a *ACMEClient) DeployHookDir() string {
	return filepath.Join(a.stateDir, "renewal-hooks", "deploy")
}

// order runs the full ACME flow for the domain. When finalize is false the
// flow stops after the authorizations are valid, which is the dry-run
// behavior: the CA has validated control of the domain but no certificate
// is issued.
func (a *ACMEClient) order(ctx context.Context, domain string, finalize bool) error {
	accountKey, err := a.loadOrCreateAccountKey()
	if err != nil {
		return err
	}

	client := &acme.Client{Key: accountKey, DirectoryURL: a.directoryURL}

	// Register the account, or retrieve the existing one. No contact email.
	if _, err := client.Register(ctx, &acme.Account{}, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return fmt.Errorf("register ACME account: %w", err)
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domain))
	if err != nil {
		return fmt.Errorf("authorize order: %w", err)
	}

	solver := newHTTP01Solver(a.listenAddr)
	if err := solver.start(); err != nil {
		return fmt.Errorf("start challenge listener: %w", err)
	}
	defer solver.stop()

	for _, authzURL := range order.AuthzURLs {
		if err := a.solveAuthorization(ctx, client, solver, authzURL); err != nil {
			return err
		}
	}

	if !finalize {
		a.logger.Info().Str("domain", domain).Msg("dry run: authorizations validated, skipping issuance")
		return nil
	}

	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return fmt.Errorf("wait order: %w", err)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate certificate key: %w", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		DNSNames: []string{domain},
	}, certKey)
	if err != nil {
		return fmt.Errorf("create CSR: %w", err)
	}

	certDER, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return fmt.Errorf("finalize order: %w", err)
	}

	return a.writeLineage(domain, certKey, certDER)
}

func (a *ACMEClient) solveAuthorization(ctx context.Context, client *acme.Client, solver *http01Solver, authzURL string) error {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("get authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var challenge *acme.Challenge
	for _, ch := range authz.Challenges {
		if ch.Type == "http-01" {
			challenge = ch
			break
		}
	}
	if challenge == nil {
		return fmt.Errorf("no http-01 challenge offered for %s", authzURL)
	}

	keyAuth, err := client.HTTP01ChallengeResponse(challenge.Token)
	if err != nil {
		return fmt.Errorf("compute key authorization: %w", err)
	}
	solver.add(challenge.Token, keyAuth)
	defer solver.remove(challenge.Token)

	if _, err := client.Accept(ctx, challenge); err != nil {
		return fmt.Errorf("accept challenge: %w", err)
	}
	if _, err := client.WaitAuthorization(ctx, authzURL); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	return nil
}

// writeLineage stores the key and full chain under live/<domain>. The key
// is written first with owner-only permissions.
func (a *ACMEClient) writeLineage(domain string, key *ecdsa.PrivateKey, certDER [][]byte) error {
	dir := a.liveDir(domain)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create lineage dir: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal certificate key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), keyPEM, 0600); err != nil {
		return fmt.Errorf("write privkey.pem: %w", err)
	}

	var chain []byte
	for _, der := range certDER {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), chain, 0644); err != nil {
		return fmt.Errorf("write fullchain.pem: %w", err)
	}

	a.logger.Info().Str("domain", domain).Str("lineage", dir).Msg("wrote lineage")
	return nil
}

// loadOrCreateAccountKey persists the ACME account key across runs so
// registration resolves to the same account.
func (a *ACMEClient) loadOrCreateAccountKey() (*ecdsa.PrivateKey, error) {
	keyPath := filepath.Join(a.stateDir, "account.key")

	if keyPEM, err := os.ReadFile(keyPath); err == nil {
		block, _ := pem.Decode(keyPEM)
		if block == nil {
			return nil, fmt.Errorf("failed to decode account key PEM at %s", keyPath)
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse account key: %w", err)
		}
		return key, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal account key: %w", err)
	}
	if err := os.MkdirAll(a.stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("write account key: %w", err)
	}
	return key, nil
}

// http01Solver serves key authorizations on the well-known challenge path
// while an order is being validated.
type http01Solver struct {
	addr string

	mu     sync.Mutex
	tokens map[string]string

	listener net.Listener
	server   *http.Server
}

func newHTTP01Solver(addr string) *http01Solver {
	return &http01Solver{addr: addr, tokens: make(map[string]string)}
}

func (s *http01Solver) add(token, keyAuth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = keyAuth
}

func (s *http01Solver) remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// ServeHTTP answers /.well-known/acme-challenge/<token> requests.
func (s *http01Solver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/.well-known/acme-challenge/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, prefix)

	s.mu.Lock()
	keyAuth, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, keyAuth)
}

// start binds the challenge port. Fails when the port is already taken,
// which the caller surfaces as a provisioning error.
func (s *http01Solver) start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s}
	go func() {
		_ = s.server.Serve(listener)
	}()
	return nil
}

func (s *http01Solver) stop() {
	if s.server != nil {
		_ = s.server.Close()
	}
}
