//go:build linux

package ssmclient

import (
	"os"

	"golang.org/x/sys/unix"
)

func cleanup() error {
	if origTermios != nil {
		// reset stdin to its original settings
		return unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETSF, origTermios)
	}
	return nil
}

// see also: https://pkg.go.dev/golang.org/x/term#MakeRaw
func configureStdin() (err error) {
	origTermios, err = unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS)
	if err != nil {
		return err
	}

	// unsetting ISIG means this process no longer responds to INT, QUIT,
	// SUSP (they travel downstream to the instance session), so those
	// signals are unavailable for shutting down this process
	newTermios := *origTermios
	newTermios.Iflag = origTermios.Iflag | unix.IUTF8
	newTermios.Lflag = origTermios.Lflag ^ unix.ICANON ^ unix.ECHO ^ unix.ISIG

	return unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETSF, &newTermios)
}
