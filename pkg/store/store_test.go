package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *SessionStore {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "clerk.db"), zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStoreCart(t *testing.T) {
	ctx := context.Background()

	t.Run("should return empty cart for unknown session", func(t *testing.T) {
		s := setupStore(t)

		cart := s.GetCart(ctx, "nobody")
		assert.Empty(t, cart.Items)
	})

	t.Run("should merge quantities for the same product", func(t *testing.T) {
		s := setupStore(t)

		item := CartItem{ProductID: "p1", Name: "Pan", Price: 29.99, Currency: "EUR", Quantity: 1}
		s.AddToCart(ctx, "s1", item)
		s.AddToCart(ctx, "s1", item)

		cart := s.GetCart(ctx, "s1")
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 2, cart.Items[0].Quantity)
	})

	t.Run("should keep sessions independent", func(t *testing.T) {
		s := setupStore(t)

		s.AddToCart(ctx, "s1", CartItem{ProductID: "p1", Name: "Pan", Price: 10, Quantity: 1})
		s.AddToCart(ctx, "s2", CartItem{ProductID: "p2", Name: "Pot", Price: 20, Quantity: 3})

		assert.Len(t, s.GetCart(ctx, "s1").Items, 1)
		cart2 := s.GetCart(ctx, "s2")
		require.Len(t, cart2.Items, 1)
		assert.Equal(t, "p2", cart2.Items[0].ProductID)
	})

	t.Run("should clear cart", func(t *testing.T) {
		s := setupStore(t)

		s.AddToCart(ctx, "s1", CartItem{ProductID: "p1", Name: "Pan", Price: 10, Quantity: 1})
		s.ClearCart(ctx, "s1")

		assert.Empty(t, s.GetCart(ctx, "s1").Items)
	})

	t.Run("should compute cart total", func(t *testing.T) {
		cart := Cart{Items: []CartItem{
			{Price: 10, Quantity: 2},
			{Price: 5.5, Quantity: 1},
		}}
		assert.InDelta(t, 25.5, cart.Total(), 0.001)
	})
}

func TestSessionStoreProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("should return nil profile for unknown session", func(t *testing.T) {
		s := setupStore(t)
		assert.Nil(t, s.GetUser(ctx, "nobody"))
	})

	t.Run("should upsert profile fields", func(t *testing.T) {
		s := setupStore(t)

		s.SaveUserField(ctx, "s1", "first_name", "Jean")
		s.SaveUserField(ctx, "s1", "phone", "0612345678")
		s.SaveUserField(ctx, "s1", "first_name", "Jeanne")

		profile := s.GetUser(ctx, "s1")
		require.NotNil(t, profile)
		assert.Equal(t, "Jeanne", profile["first_name"])
		assert.Equal(t, "0612345678", profile["phone"])
	})
}

func TestSessionStoreFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("should run volatile-only without a store path", func(t *testing.T) {
		s := New("", zerolog.Nop())
		defer s.Close()

		assert.Equal(t, "volatile", s.Mode())

		s.AddToCart(ctx, "s1", CartItem{ProductID: "p1", Name: "Pan", Price: 10, Quantity: 1})
		cart := s.GetCart(ctx, "s1")
		require.Len(t, cart.Items, 1)
	})

	t.Run("should merge quantities with durable backend forced unavailable", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "clerk.db"), zerolog.Nop())
		require.Equal(t, "durable", s.Mode())

		// Closing the handle makes every durable operation fail.
		require.NoError(t, s.Close())

		item := CartItem{ProductID: "p1", Name: "Pan", Price: 10, Quantity: 1}
		s.AddToCart(ctx, "s1", item)
		s.AddToCart(ctx, "s1", item)

		cart := s.GetCart(ctx, "s1")
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 2, cart.Items[0].Quantity)
	})

	t.Run("should degrade profile writes without raising", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "clerk.db"), zerolog.Nop())
		require.NoError(t, s.Close())

		s.SaveUserField(ctx, "s1", "first_name", "Jean")
		profile := s.GetUser(ctx, "s1")
		require.NotNil(t, profile)
		assert.Equal(t, "Jean", profile["first_name"])
	})
}
