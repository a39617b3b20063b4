//go:build windows

package ssmclient

import (
	"os"

	"golang.org/x/term"

	"ssm-tunnel/datachannel"
)

var origState *term.State

func initialize(c datachannel.DataChannel) error {
	var err error
	origState, err = term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	return updateTermSize(c)
}

func cleanup() error {
	if origState != nil {
		return term.Restore(int(os.Stdin.Fd()), origState)
	}
	return nil
}

func getWinSize() (rows, cols uint32, err error) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0, err
	}

	return uint32(h), uint32(w), nil
}
