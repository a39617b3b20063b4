package ssmclient

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"ssm-tunnel/datachannel"
)

// ShellSession starts an interactive shell on the target instance.  The
// local terminal is switched to raw-ish mode for the duration of the
// session and restored on exit.  A vararg slice of io.Readers can be
// provided to send commands to the instance before handing the terminal
// to the user.
func ShellSession(ctx context.Context, cfg aws.Config, target string, initCmd ...io.Reader) error {
	c := new(datachannel.SsmDataChannel)
	if err := c.Open(ctx, cfg, &ssm.StartSessionInput{Target: aws.String(target)}); err != nil {
		return wrapStartSessionError(err)
	}
	defer c.Close()

	// platform-specific terminal setup: signal handling, stdin modes
	if err := initialize(c); err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck // not reached if terminated by a signal

	errCh := make(chan error, 5)
	go func() {
		if _, err := io.Copy(c, os.Stdin); err != nil {
			errCh <- err
		}
	}()

	for _, cmd := range initCmd {
		_, _ = io.Copy(c, cmd)
	}

	return pumpOutput(os.Stdout, c, errCh)
}

// pumpOutput copies session output to dst until the channel closes.  A
// clean close returns nil right away instead of waiting on the stdin
// pump, which stays parked in a raw-mode terminal read.  Any error the
// stdin pump reported before the session ended takes precedence.
func pumpOutput(dst io.Writer, src io.Reader, errCh <-chan error) error {
	if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func updateTermSize(c datachannel.DataChannel) error {
	rows, cols, err := getWinSize()
	if err != nil {
		// fall back to a usable default size
		cols = 132
		rows = 45
		zap.S().Debugf("could not get terminal size: %v, using %dx%d", err, cols, rows)
	}

	return c.SetTerminalSize(rows, cols)
}
