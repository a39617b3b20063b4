package ssmclient

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"ssm-tunnel/datachannel"
)

// SSHSession is a specialized port forwarding session meant to be used as
// an SSH ProxyCommand transport.  The remote port defaults to 22, input is
// read from stdin and output written to stdout.
func SSHSession(ctx context.Context, cfg aws.Config, opts *PortForwardingInput) error {
	port := "22"
	if opts.RemotePort > 0 {
		port = strconv.Itoa(opts.RemotePort)
	}

	in := &ssm.StartSessionInput{
		DocumentName: aws.String(docSSHSession),
		Target:       aws.String(opts.Target),
		Parameters: map[string][]string{
			"portNumber": {port},
		},
	}
	if opts.Reason != "" {
		in.Reason = aws.String(opts.Reason)
	}

	c := new(datachannel.SsmDataChannel)
	if err := c.Open(ctx, cfg, in); err != nil {
		return wrapStartSessionError(err)
	}
	defer func() {
		_ = c.TerminateSession()
		_ = c.Close()
	}()

	// the SSH document skips the client handshake, give the agent a moment
	// to finish stream setup before sending data
	time.Sleep(200 * time.Millisecond)

	inCh, errCh := c.ReaderChannel()
	outCh := readPump(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return nil
		case dataIn, ok := <-inCh:
			if !ok {
				return nil
			}
			if _, err := os.Stdout.Write(dataIn); err != nil {
				return err
			}
		case dataOut, ok := <-outCh:
			if !ok {
				// stdin is gone, nothing more to proxy
				return nil
			}
			if _, err := c.Write(dataOut); err != nil {
				return err
			}
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			zap.S().Warnf("data channel error: %v", err)
		}
	}
}
