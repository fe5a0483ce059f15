package store

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every ports.Store must share.
func runStoreContract(t *testing.T, s ports.Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "a:1", "one", 0))
		v, err := s.Get(ctx, "a:1")
		require.NoError(t, err)
		assert.Equal(t, "one", v)

		require.NoError(t, s.Delete(ctx, "a:1"))
		require.NoError(t, s.Delete(ctx, "a:1"))
		_, err = s.Get(ctx, "a:1")
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
	})

	t.Run("list by prefix", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "list:b", "2", 0))
		require.NoError(t, s.Set(ctx, "list:a", "1", 0))
		require.NoError(t, s.Set(ctx, "lister", "x", 0))
		require.NoError(t, s.Set(ctx, "other:a", "3", 0))

		keys, err := s.List(ctx, "list:")
		require.NoError(t, err)
		assert.Equal(t, []string{"list:a", "list:b"}, keys)
	})

	t.Run("update counter", func(t *testing.T) {
		incr := func(current string, exists bool) (string, error) {
			n := 0
			if exists {
				var err error
				n, err = strconv.Atoi(current)
				if err != nil {
					return "", err
				}
			}
			return strconv.Itoa(n + 1), nil
		}
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Update(ctx, "counter", 0, incr))
		}
		v, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "3", v)
	})

	t.Run("update abort keeps value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "keep", "v1", 0))
		boom := errors.New("boom")
		err := s.Update(ctx, "keep", 0, func(string, bool) (string, error) {
			return "", boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := s.Get(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
	})

	t.Run("take", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "take", "v", 0))
		v, err := s.Take(ctx, "take")
		require.NoError(t, err)
		assert.Equal(t, "v", v)

		_, err = s.Take(ctx, "take")
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
	})
}
