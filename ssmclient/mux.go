package ssmclient

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/xtaci/smux"
	"go.uber.org/zap"

	"ssm-tunnel/datachannel"
)

// MuxPortForwardingSession establishes a port forwarding session that
// serves multiple concurrent local connections.  The handshake advertises
// a client version recent enough for the agent to select its stream
// multiplexing plugin, then each accepted local connection is carried on
// its own smux stream over the data channel.
func MuxPortForwardingSession(ctx context.Context, cfg aws.Config, opts *PortForwardingInput) error {
	c := new(datachannel.SsmDataChannel)
	c.EnableMuxing()

	if err := c.Open(ctx, cfg, opts.StartSessionInput()); err != nil {
		return wrapStartSessionError(err)
	}
	defer func() {
		_ = c.TerminateSession()
		_ = c.Close()
	}()

	zap.S().Debugf("started muxing session %s", c.SessionID())

	lsnr, err := listen(ctx, c, opts.LocalPort, 64)
	if err != nil {
		return err
	}
	defer lsnr.Close()

	sess, err := smux.Client(c, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := lsnr.Accept()
		if err != nil {
			if ctx.Err() != nil || sess.IsClosed() {
				return nil
			}
			return err
		}

		stream, err := sess.OpenStream()
		if err != nil {
			_ = conn.Close()
			if sess.IsClosed() {
				return nil
			}
			return err
		}
		zap.S().Debugf("opened stream %d for %s", stream.ID(), conn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			pipeStream(conn, stream)
		}()
	}
}

// pipeStream copies both directions between a local connection and its
// smux stream, closing both when either side finishes.
func pipeStream(conn, stream io.ReadWriteCloser) {
	defer conn.Close()
	defer stream.Close()

	done := make(chan struct{}, 2)

	go func() {
		_, _ = io.Copy(stream, conn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, stream)
		done <- struct{}{}
	}()

	<-done
}
