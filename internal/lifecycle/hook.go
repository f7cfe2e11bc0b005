package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// The deploy hook is a self-contained POSIX sh script; the CA client runs
// it without this binary on PATH. RENEWED_DOMAINS may carry several
// space-separated domains, so membership is checked per token, never by
// substring.
var hookTemplate = template.Must(template.New("hook").Parse(`#!/bin/sh
# Deploy hook for {{ .Domain }}. Invoked by the CA client after each
# successful renewal with RENEWED_DOMAINS and RENEWED_LINEAGE set.
# A failed copy or restart exits non-zero before the log line is written,
# so the renewal runner records the failure.
set -e

match=0
for renewed in ${RENEWED_DOMAINS}; do
    if [ "${renewed}" = "{{ .Domain }}" ]; then
        match=1
        break
    fi
done
[ "${match}" -eq 1 ] || exit 0

cp "${RENEWED_LINEAGE}/privkey.pem" "{{ .KeyPath }}"
cp "${RENEWED_LINEAGE}/fullchain.pem" "{{ .CertPath }}"
chmod 600 "{{ .KeyPath }}"

{{ .RestartCommand }}

echo "$(date '+%Y-%m-%d %H:%M:%S') {{ .Domain }}: deployed renewed certificate and restarted {{ .Name }}" >> "{{ .LogPath }}"
`))

type hookData struct {
	Service
	KeyPath  string
	CertPath string
	LogPath  string
}

// renderHook produces the hook script body for a service.
func renderHook(svc Service) (string, error) {
	data := hookData{
		Service:  svc,
		KeyPath:  svc.DeployedKeyPath(),
		CertPath: svc.DeployedCertPath(),
		LogPath:  svc.RenewalLogPath(),
	}
	var buf strings.Builder
	if err := hookTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeHook writes the hook script and makes it executable. Overwrites any
// previous hook for the service, so repeated configuration never leaves
// duplicates behind.
func writeHook(svc Service) (string, error) {
	body, err := renderHook(svc)
	if err != nil {
		return "", fmt.Errorf("render deploy hook: %w", err)
	}

	path := svc.HookPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		return "", fmt.Errorf("write deploy hook: %w", err)
	}
	// WriteFile permissions only apply on create; an existing hook keeps
	// its old mode.
	if err := os.Chmod(path, 0755); err != nil {
		return "", fmt.Errorf("make deploy hook executable: %w", err)
	}
	return path, nil
}

// globalHookName is the per-service link name inside the CA client's
// global deploy-hook directory.
func globalHookName(domain string) string {
	return "certkeeper-" + domain + ".sh"
}

// linkHookGlobally points the CA client's global deploy-hook directory at
// the service-local hook, replacing a stale link if one exists.
func linkHookGlobally(hookPath, hookDir, domain string) (string, error) {
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		return "", fmt.Errorf("create deploy-hook dir: %w", err)
	}
	link := filepath.Join(hookDir, globalHookName(domain))
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale hook link: %w", err)
	}
	if err := os.Symlink(hookPath, link); err != nil {
		return "", fmt.Errorf("link hook into %s: %w", hookDir, err)
	}
	return link, nil
}
