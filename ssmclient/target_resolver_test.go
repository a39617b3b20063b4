package ssmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	id  string
	err error
}

func (r *stubResolver) Resolve(context.Context, string) (string, error) {
	return r.id, r.err
}

func TestResolveTargetChain(t *testing.T) {
	ctx := context.Background()

	t.Run("instance id passthrough", func(t *testing.T) {
		id, err := ResolveTargetChain(ctx, "i-0123456789abcdef0")
		require.NoError(t, err)
		assert.Equal(t, "i-0123456789abcdef0", id)
	})

	t.Run("first successful resolver wins", func(t *testing.T) {
		id, err := ResolveTargetChain(ctx, "web0",
			&stubResolver{err: errors.New("nope")},
			&stubResolver{id: "i-deadbeefcafe0123"},
			&stubResolver{id: "i-should-not-be-used"},
		)
		require.NoError(t, err)
		assert.Equal(t, "i-deadbeefcafe0123", id)
	})

	t.Run("all resolvers fail", func(t *testing.T) {
		_, err := ResolveTargetChain(ctx, "web0", &stubResolver{err: errors.New("nope")})
		assert.ErrorIs(t, err, ErrNoInstanceFound)
	})
}

func TestTagResolverSpecFormat(t *testing.T) {
	r := &tagResolver{}

	// no tag separator, resolver should refuse before calling the EC2 API
	_, err := r.Resolve(context.Background(), "just-a-name")
	assert.ErrorIs(t, err, ErrInvalidTargetFormat)
}

func TestIPResolverSpecFormat(t *testing.T) {
	r := &ipResolver{}

	_, err := r.Resolve(context.Background(), "not.an.ip.addr")
	assert.ErrorIs(t, err, ErrInvalidTargetFormat)

	_, err = r.Resolve(context.Background(), "hostname:web0")
	assert.ErrorIs(t, err, ErrInvalidTargetFormat)
}
