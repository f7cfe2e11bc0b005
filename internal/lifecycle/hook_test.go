package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installStubDocker puts a fake docker binary first on PATH that appends
// its arguments to a record file, so hook invocations can be counted.
func installStubDocker(t *testing.T) (record string) {
	t.Helper()
	binDir := t.TempDir()
	record = filepath.Join(binDir, "invocations.log")

	stub := "#!/bin/sh\necho \"docker $@\" >> \"" + record + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "docker"), []byte(stub), 0755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return record
}

// runHook executes the service's generated hook under /bin/sh with the
// environment the CA client provides.
func runHook(t *testing.T, svc Service, renewedDomains, renewedLineage string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", svc.HookPath())
	cmd.Env = append(os.Environ(),
		"RENEWED_DOMAINS="+renewedDomains,
		"RENEWED_LINEAGE="+renewedLineage,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Logf("hook output: %s", output)
	}
	return err
}

func TestHook_UnrelatedDomainIsNoOp(t *testing.T) {
	record := installStubDocker(t)
	svc := testService(t).withDefaults()
	lin := writeFakeLineage(t, "other.example.com", time.Now().Add(60*24*time.Hour))

	_, err := writeHook(svc)
	require.NoError(t, err)

	require.NoError(t, runHook(t, svc, "other.example.com", lin.Path))

	// No copy, no restart, no log line.
	assert.NoFileExists(t, svc.DeployedKeyPath())
	assert.NoFileExists(t, svc.DeployedCertPath())
	assert.NoFileExists(t, record)
	assert.NoFileExists(t, svc.RenewalLogPath())
}

func TestHook_SubstringDomainIsNoOp(t *testing.T) {
	record := installStubDocker(t)
	svc := testService(t).withDefaults()
	// svc.example.com is a suffix of sub.svc.example.com; token matching
	// must not fire.
	lin := writeFakeLineage(t, "sub.svc.example.com", time.Now().Add(60*24*time.Hour))

	_, err := writeHook(svc)
	require.NoError(t, err)

	require.NoError(t, runHook(t, svc, "sub.svc.example.com", lin.Path))

	assert.NoFileExists(t, svc.DeployedKeyPath())
	assert.NoFileExists(t, record)
}

func TestHook_MatchingDomainDeploys(t *testing.T) {
	record := installStubDocker(t)
	svc := testService(t).withDefaults()
	lin := writeFakeLineage(t, svc.Domain, time.Now().Add(60*24*time.Hour))
	require.NoError(t, os.MkdirAll(svc.DeployDir, 0755))

	_, err := writeHook(svc)
	require.NoError(t, err)

	require.NoError(t, runHook(t, svc, svc.Domain+" other.example.com", lin.Path))

	// Key and chain copied from the renewed lineage.
	key, err := os.ReadFile(svc.DeployedKeyPath())
	require.NoError(t, err)
	assert.Contains(t, string(key), svc.Domain)
	assert.FileExists(t, svc.DeployedCertPath())

	info, err := os.Stat(svc.DeployedKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Exactly one restart invocation.
	invocations, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(invocations)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "restart sharing-app")

	// Exactly one log line carrying the domain.
	logData, err := os.ReadFile(svc.RenewalLogPath())
	require.NoError(t, err)
	logLines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	require.Len(t, logLines, 1)
	assert.Contains(t, logLines[0], svc.Domain)
}

func TestHook_FailedCopyExitsNonZero(t *testing.T) {
	record := installStubDocker(t)
	svc := testService(t).withDefaults()
	lin := writeFakeLineage(t, svc.Domain, time.Now().Add(60*24*time.Hour))
	// Deploy dir deliberately absent, so the key copy fails.

	_, err := writeHook(svc)
	require.NoError(t, err)

	err = runHook(t, svc, svc.Domain, lin.Path)
	require.Error(t, err)

	// The failure must stop the hook before the restart and the log line,
	// so the renewal runner sees the non-zero exit and nothing claims a
	// deploy happened.
	assert.NoFileExists(t, svc.DeployedKeyPath())
	assert.NoFileExists(t, record)
	assert.NoFileExists(t, svc.RenewalLogPath())
}

func TestHook_LogAppendsAcrossRenewals(t *testing.T) {
	installStubDocker(t)
	svc := testService(t).withDefaults()
	lin := writeFakeLineage(t, svc.Domain, time.Now().Add(60*24*time.Hour))
	require.NoError(t, os.MkdirAll(svc.DeployDir, 0755))

	_, err := writeHook(svc)
	require.NoError(t, err)

	require.NoError(t, runHook(t, svc, svc.Domain, lin.Path))
	require.NoError(t, runHook(t, svc, svc.Domain, lin.Path))

	logData, err := os.ReadFile(svc.RenewalLogPath())
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(logData)), "\n"), 2)
}

func TestWriteHook_OverwritesInPlace(t *testing.T) {
	svc := testService(t).withDefaults()

	path1, err := writeHook(svc)
	require.NoError(t, err)

	svc.RestartCommand = "docker restart sharing-app"
	path2, err := writeHook(svc)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)

	body, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docker restart sharing-app")
	assert.NotContains(t, string(body), "docker compose")
}

func TestRenderHook_ContainsContract(t *testing.T) {
	svc := testService(t).withDefaults()

	body, err := renderHook(svc)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(body, "#!/bin/sh"))
	assert.Contains(t, body, "set -e")
	assert.Contains(t, body, "RENEWED_DOMAINS")
	assert.Contains(t, body, `${RENEWED_LINEAGE}/privkey.pem`)
	assert.Contains(t, body, `${RENEWED_LINEAGE}/fullchain.pem`)
	assert.Contains(t, body, svc.DeployedKeyPath())
	assert.Contains(t, body, svc.DeployedCertPath())
	assert.Contains(t, body, svc.RestartCommand)
	assert.Contains(t, body, svc.RenewalLogPath())
}
