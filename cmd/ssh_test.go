package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestParseSSHTarget(t *testing.T) {
	tests := []struct {
		spec string
		user string
		host string
		port int
	}{
		{"i-0123456789abcdef0", "ec2-user", "i-0123456789abcdef0", 22},
		{"admin@i-0123456789abcdef0", "admin", "i-0123456789abcdef0", 22},
		{"admin@i-0123456789abcdef0:2222", "admin", "i-0123456789abcdef0", 2222},
		{"i-0123456789abcdef0:2222", "ec2-user", "i-0123456789abcdef0", 2222},
		// tag specs contain a colon that is not a port
		{"hostname:web0", "ec2-user", "hostname:web0", 22},
		{"ubuntu@hostname:web0:2022", "ubuntu", "hostname:web0", 2022},
		{"10.1.2.3", "ec2-user", "10.1.2.3", 22},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			user, host, port := parseSSHTarget(tt.spec)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestPublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	want := string(mustAuthorizedKey(t, pub))

	writeKey := func(t *testing.T, block *pem.Block) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
		return path
	}

	t.Run("plain key", func(t *testing.T) {
		block, err := ssh.MarshalPrivateKey(priv, "")
		require.NoError(t, err)

		sshIdentityFile = writeKey(t, block)
		defer func() { sshIdentityFile = "" }()

		got, err := publicKey()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("passphrase protected key", func(t *testing.T) {
		// the openssh format keeps the public half unencrypted, so no
		// passphrase prompt is needed to derive the authorized_keys line
		block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
		require.NoError(t, err)

		sshIdentityFile = writeKey(t, block)
		defer func() { sshIdentityFile = "" }()

		got, err := publicKey()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func mustAuthorizedKey(t *testing.T, pub ed25519.PublicKey) []byte {
	t.Helper()
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return ssh.MarshalAuthorizedKey(sshPub)
}
