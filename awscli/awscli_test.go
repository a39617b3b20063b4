package awscli

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSpecDocumentName(t *testing.T) {
	spec := &SessionSpec{Target: "i-0123456789abcdef0", RemotePort: 80, LocalPort: 8080}
	assert.Equal(t, docPortForwarding, spec.DocumentName())

	spec.RemoteHost = "web.internal"
	assert.Equal(t, docPortForwardingRemote, spec.DocumentName())
}

func TestSessionSpecParameters(t *testing.T) {
	spec := &SessionSpec{
		Target:     "i-0123456789abcdef0",
		RemoteHost: "db.internal",
		RemotePort: 3306,
		LocalPort:  13306,
	}

	raw, err := spec.Parameters()
	require.NoError(t, err)

	var params map[string][]string
	require.NoError(t, json.Unmarshal([]byte(raw), &params))

	assert.Equal(t, []string{"db.internal"}, params["host"])
	assert.Equal(t, []string{"3306"}, params["portNumber"])
	assert.Equal(t, []string{"13306"}, params["localPortNumber"])
}

func TestSessionSpecArgs(t *testing.T) {
	spec := &SessionSpec{
		Target:     "i-0123456789abcdef0",
		RemotePort: 443,
		LocalPort:  8443,
		Region:     "us-west-2",
		Profile:    "staging",
		Reason:     "debugging",
	}

	args, err := spec.Args()
	require.NoError(t, err)

	assert.Equal(t, []string{"ssm", "start-session", "--target", "i-0123456789abcdef0"}, args[:4])
	assert.Contains(t, args, "--document-name")
	assert.Contains(t, args, docPortForwarding)
	assert.Contains(t, args, "--region")
	assert.Contains(t, args, "us-west-2")
	assert.Contains(t, args, "--profile")
	assert.Contains(t, args, "staging")
	assert.Contains(t, args, "--reason")
}

func TestSessionSpecArgsOmitsEmptyFlags(t *testing.T) {
	spec := &SessionSpec{Target: "i-0123456789abcdef0", RemotePort: 80, LocalPort: 80}

	args, err := spec.Args()
	require.NoError(t, err)

	assert.NotContains(t, args, "--region")
	assert.NotContains(t, args, "--profile")
	assert.NotContains(t, args, "--reason")
}

func TestStartSessionExitStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH fakery is posix specific")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\nexit 42\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, awsBinary), []byte(script), 0o755))
	t.Setenv("PATH", dir)

	spec := &SessionSpec{Target: "i-0123456789abcdef0", RemotePort: 80, LocalPort: 8080}
	err := StartSession(context.Background(), spec)
	require.Error(t, err)

	// the child's status must stay recoverable for exit code passthrough
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 42, exitErr.ExitCode())
	assert.ErrorContains(t, err, "exit code 42")
}

func TestCheckPrerequisites(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH fakery is posix specific")
	}

	fakeBin := func(t *testing.T, dir string, names ...string) {
		t.Helper()
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755))
		}
	}

	t.Run("both installed", func(t *testing.T) {
		dir := t.TempDir()
		fakeBin(t, dir, awsBinary, pluginBinary)
		t.Setenv("PATH", dir)

		assert.NoError(t, CheckPrerequisites())
	})

	t.Run("missing aws cli", func(t *testing.T) {
		dir := t.TempDir()
		fakeBin(t, dir, pluginBinary)
		t.Setenv("PATH", dir)

		assert.ErrorIs(t, CheckPrerequisites(), ErrAWSCLINotFound)
	})

	t.Run("missing plugin", func(t *testing.T) {
		dir := t.TempDir()
		fakeBin(t, dir, awsBinary)
		t.Setenv("PATH", dir)

		assert.ErrorIs(t, CheckPrerequisites(), ErrPluginNotFound)
	})
}
