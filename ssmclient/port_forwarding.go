package ssmclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"ssm-tunnel/datachannel"
)

// SSM session documents used to establish port forwarding.
const (
	docPortForwarding       = "AWS-StartPortForwardingSession"
	docPortForwardingRemote = "AWS-StartPortForwardingSessionToRemoteHost"
	docSSHSession           = "AWS-StartSSHSession"
)

// PortForwardingInput describes a port forwarding session.  Target is an
// EC2 instance ID.  When RemoteHost is empty the tunnel terminates on the
// instance itself, otherwise on a host reachable from the instance.  A
// LocalPort of 0 selects an ephemeral port.
type PortForwardingInput struct {
	Target     string
	RemoteHost string
	RemotePort int
	LocalPort  int
	Reason     string
}

// StartSessionInput builds the SSM API request for this port forwarding
// session, selecting the document based on whether a remote host is set.
func (in *PortForwardingInput) StartSessionInput() *ssm.StartSessionInput {
	doc := docPortForwarding
	params := map[string][]string{
		"portNumber":      {strconv.Itoa(in.RemotePort)},
		"localPortNumber": {strconv.Itoa(in.LocalPort)},
	}

	if in.RemoteHost != "" {
		doc = docPortForwardingRemote
		params["host"] = []string{in.RemoteHost}
	}

	out := &ssm.StartSessionInput{
		DocumentName: aws.String(doc),
		Target:       aws.String(in.Target),
		Parameters:   params,
	}

	if in.Reason != "" {
		out.Reason = aws.String(in.Reason)
	}

	return out
}

// PortForwardingSession establishes a data channel with the target and
// forwards a local TCP listener over it.  The agent's basic port plugin
// handles a single stream at a time, so one local connection is served at
// a time; when a connection closes the stream is disconnected and the
// listener accepts again.  Returns when ctx is cancelled or the data
// channel closes.
func PortForwardingSession(ctx context.Context, cfg aws.Config, opts *PortForwardingInput) error {
	c := new(datachannel.SsmDataChannel)
	if err := c.Open(ctx, cfg, opts.StartSessionInput()); err != nil {
		return wrapStartSessionError(err)
	}
	defer func() {
		_ = c.TerminateSession()
		_ = c.Close()
	}()

	zap.S().Debugf("started session %s", c.SessionID())

	lsnr, err := listen(ctx, c, opts.LocalPort, 1)
	if err != nil {
		return err
	}
	defer lsnr.Close()

	for {
		conn, err := lsnr.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		zap.S().Debugf("accepted connection from %s", conn.RemoteAddr())

		done, err := forwardConn(c, conn)
		if done || err != nil {
			return err
		}

		// tear down the agent-side stream so the next connection starts clean
		if err = c.DisconnectPort(); err != nil {
			return err
		}
	}
}

// listen opens the local TCP listener, bounded to maxConns concurrent
// connections, and arranges for it to close when ctx is cancelled.
func listen(ctx context.Context, c *datachannel.SsmDataChannel, port, maxConns int) (net.Listener, error) {
	if err := c.WaitHandshake(); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	lsnr := netutil.LimitListener(l, maxConns)
	zap.S().Infof("listening on %s", lsnr.Addr())

	go func() {
		<-ctx.Done()
		_ = lsnr.Close()
	}()

	return lsnr, nil
}

// forwardConn pumps bytes between the local connection and the data
// channel until one side closes.  done reports that the data channel is no
// longer usable and the session should end.
func forwardConn(c *datachannel.SsmDataChannel, conn net.Conn) (done bool, err error) {
	defer conn.Close()

	inCh, errCh := c.ReaderChannel()
	outCh := readPump(conn)

	for {
		select {
		case dataIn, ok := <-inCh:
			if !ok {
				return true, nil
			}
			if _, err = conn.Write(dataIn); err != nil {
				zap.S().Debugf("local write: %v", err)
				return false, nil
			}
		case dataOut, ok := <-outCh:
			if !ok {
				// local peer went away, keep the session for the next connection
				return false, nil
			}
			if _, err = c.Write(dataOut); err != nil {
				return true, err
			}
		case chErr, ok := <-errCh:
			if !ok {
				return true, nil
			}
			zap.S().Warnf("data channel error: %v", chErr)
		}
	}
}

// readPump reads the local source into a channel, closing it on EOF or
// any read error.
func readPump(r io.Reader) chan []byte {
	dataCh := make(chan []byte, 64)

	go func() {
		defer close(dataCh)

		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				dataCh <- data
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					zap.S().Debugf("local read: %v", err)
				}
				return
			}
		}
	}()

	return dataCh
}
