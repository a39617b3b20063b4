// Package awscli starts port forwarding sessions by delegating to the AWS
// CLI and its Session Manager plugin, instead of speaking the session
// protocol in process.
package awscli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	awsBinary    = "aws"
	pluginBinary = "session-manager-plugin"

	docPortForwarding       = "AWS-StartPortForwardingSession"
	docPortForwardingRemote = "AWS-StartPortForwardingSessionToRemoteHost"

	pingTimeout = 5 * time.Second
)

var (
	// ErrAWSCLINotFound is returned when the aws binary is not on PATH.
	ErrAWSCLINotFound = errors.New("aws CLI not found on PATH, install it from " +
		"https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html")
	// ErrPluginNotFound is returned when the session-manager-plugin binary
	// is not on PATH.
	ErrPluginNotFound = errors.New("session-manager-plugin not found on PATH, install it from " +
		"https://docs.aws.amazon.com/systems-manager/latest/userguide/session-manager-working-with-install-plugin.html")
)

// SessionSpec describes a CLI-delegated port forwarding session.
type SessionSpec struct {
	Target       string
	RemoteHost   string
	RemotePort   int
	LocalPort    int
	Region       string
	Profile      string
	Reason       string
	PingInterval time.Duration
}

// DocumentName selects the SSM document for this session: forwarding to a
// remote host reachable from the instance when RemoteHost is set,
// otherwise to the instance itself.
func (s *SessionSpec) DocumentName() string {
	if s.RemoteHost != "" {
		return docPortForwardingRemote
	}
	return docPortForwarding
}

// Parameters renders the session document parameters as the JSON payload
// expected by `aws ssm start-session --parameters`.
func (s *SessionSpec) Parameters() (string, error) {
	params := map[string][]string{
		"portNumber":      {strconv.Itoa(s.RemotePort)},
		"localPortNumber": {strconv.Itoa(s.LocalPort)},
	}
	if s.RemoteHost != "" {
		params["host"] = []string{s.RemoteHost}
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Args builds the full aws CLI argument list for this session.
func (s *SessionSpec) Args() ([]string, error) {
	params, err := s.Parameters()
	if err != nil {
		return nil, err
	}

	args := []string{
		"ssm", "start-session",
		"--target", s.Target,
		"--document-name", s.DocumentName(),
		"--parameters", params,
	}

	if s.Region != "" {
		args = append(args, "--region", s.Region)
	}
	if s.Profile != "" {
		args = append(args, "--profile", s.Profile)
	}
	if s.Reason != "" {
		args = append(args, "--reason", s.Reason)
	}

	return args, nil
}

// CheckPrerequisites verifies that the aws CLI and the Session Manager
// plugin are both installed before attempting a session.
func CheckPrerequisites() error {
	if _, err := exec.LookPath(awsBinary); err != nil {
		return ErrAWSCLINotFound
	}

	if _, err := exec.LookPath(pluginBinary); err != nil {
		return ErrPluginNotFound
	}

	return nil
}

// StartSession runs `aws ssm start-session` attached to the terminal and
// waits for it to finish.  When spec.PingInterval is non-zero, the local
// port is dialed periodically to keep an idle tunnel from timing out.
// Returns when the child exits or ctx is cancelled.
func StartSession(ctx context.Context, spec *SessionSpec) error {
	args, err := spec.Args()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, awsBinary, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	zap.S().Debugf("running: %s %v", awsBinary, args)

	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start aws CLI: %w", err)
	}

	if spec.PingInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(spec.LocalPort, spec.PingInterval, stop)
	}

	if err = cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			// session ended by the user, not a failure
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// wrap so callers can recover the child's exit status
			return fmt.Errorf("session ended with exit code %d: %w", exitErr.ExitCode(), err)
		}
		return err
	}

	return nil
}

// keepAlive dials the forwarded local port on a fixed interval so the
// session sees periodic traffic.
func keepAlive(port int, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, pingTimeout)
			if err != nil {
				zap.S().Debugf("keepalive dial %s: %v", addr, err)
				continue
			}
			_ = conn.Close()
			zap.S().Debugf("keepalive dial %s ok", addr)
		}
	}
}
