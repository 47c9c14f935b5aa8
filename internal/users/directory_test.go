package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/database"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewDirectory(db)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	first, err := d.EnsureAdmin(ctx, "admin", "s3cret", "admin@example.org")
	require.NoError(t, err)
	second, err := d.EnsureAdmin(ctx, "admin", "other", "admin@example.org")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CheckPassword("s3cret"))
}

func TestLookup(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	admin, err := d.EnsureAdmin(ctx, "admin", "s3cret", "admin@example.org")
	require.NoError(t, err)

	id, err := d.Lookup(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: admin.ID, Name: "Administrador", Email: "admin@example.org"}, id)

	_, err = d.Lookup(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestAuthenticate(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	_, err := d.EnsureAdmin(ctx, "admin", "s3cret", "admin@example.org")
	require.NoError(t, err)

	u, err := d.Authenticate(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)

	_, err = d.Authenticate(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = d.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrUnknownUser)
}
