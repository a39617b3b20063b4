//go:build !windows

package ssmclient

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"ssm-tunnel/datachannel"
)

var origTermios *unix.Termios

func initialize(c datachannel.DataChannel) error {
	// configure signal handlers and immediately trigger a size update
	installSignalHandlers(c) <- syscall.SIGWINCH
	return configureStdin()
}

func installSignalHandlers(c datachannel.DataChannel) chan os.Signal {
	sigCh := make(chan os.Signal, 1)

	// stdin passes SIGINT and SIGQUIT downstream to the session terminal,
	// so only TERM and WINCH can arrive here
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGWINCH)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGWINCH:
				// not every terminal fires this on resize, but handle it when they do
				if err := updateTermSize(c); err != nil {
					zap.S().Debugf("terminal size update failed: %v", err)
				}
			case syscall.SIGTERM:
				_ = c.TerminateSession()
				_ = cleanup()
				os.Exit(0)
			}
		}
	}()

	return sigCh
}

func getWinSize() (rows, cols uint32, err error) {
	sz, err := unix.IoctlGetWinsize(int(os.Stdin.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}

	return uint32(sz.Row), uint32(sz.Col), nil
}
