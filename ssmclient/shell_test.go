package ssmclient

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpOutput(t *testing.T) {
	t.Run("clean close", func(t *testing.T) {
		// a drained reader ends the copy with a nil error, and the
		// call must return without waiting on the stdin pump
		var sb strings.Builder
		errCh := make(chan error, 1)

		err := pumpOutput(&sb, strings.NewReader("goodbye\n"), errCh)
		require.NoError(t, err)
		assert.Equal(t, "goodbye\n", sb.String())
	})

	t.Run("eof close", func(t *testing.T) {
		errCh := make(chan error, 1)
		err := pumpOutput(io.Discard, errReader{io.EOF}, errCh)
		assert.NoError(t, err)
	})

	t.Run("copy error", func(t *testing.T) {
		errCh := make(chan error, 1)
		err := pumpOutput(io.Discard, errReader{errors.New("broken pipe")}, errCh)
		assert.ErrorContains(t, err, "broken pipe")
	})

	t.Run("stdin pump error", func(t *testing.T) {
		errCh := make(chan error, 1)
		errCh <- errors.New("stdin gone")

		err := pumpOutput(io.Discard, strings.NewReader("x"), errCh)
		assert.ErrorContains(t, err, "stdin gone")
	})
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}
