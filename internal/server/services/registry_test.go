package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	h := newHarness(t)
	expectCommits(h.mock, 1)

	b, err := h.registry.Register(context.Background(), BackendInput{
		Kind: models.KindDropbox, Name: "  posters ", Role: models.RolePoster,
		ClientID: "cid", ClientSecret: "shh", RefreshToken: "rt",
	})
	require.NoError(t, err)
	h.verify()

	assert.Equal(t, "posters", b.Name)
	assert.Equal(t, models.RolePoster, b.Role)
	assert.Equal(t, []byte("sealed:shh"), b.EncryptedClientSecret)
	assert.Empty(t, b.ClientSecret)

	stored := h.st.backend(b.ID)
	assert.Equal(t, models.RolePoster, stored.Role)
	assert.Equal(t, "rt", stored.RefreshToken)

	inv := h.pub.ofType(models.EventRoleCacheInvalidated)
	require.Len(t, inv, 1)
	assert.Equal(t, models.RolePoster, inv[0].Role)
}

func TestRegister_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, BackendInput{Kind: "ftp", Name: "x"})
	assert.ErrorIs(t, err, common.ErrUnknownBackendKind)

	_, err = h.registry.Register(ctx, BackendInput{Kind: models.KindS3, Name: " "})
	assert.Error(t, err)

	_, err = h.registry.Register(ctx, BackendInput{Kind: models.KindS3, Name: "x", Role: "thumbnail"})
	assert.ErrorContains(t, err, "invalid role")

	for _, n := range []string{"a", "b", "c"} {
		h.st.addBackend(&models.StorageBackend{ID: n, Name: n})
	}
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
	_, err = h.registry.Register(ctx, BackendInput{Kind: models.KindS3, Name: "d"})
	assert.ErrorIs(t, err, common.ErrBackendLimitReached)
	h.verify()
}

func TestRegister_NameTaken(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "a", Name: "main"})
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	_, err := h.registry.Register(context.Background(), BackendInput{Kind: models.KindS3, Name: "main"})
	assert.ErrorIs(t, err, common.ErrBackendNameTaken)
	h.verify()
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "a", Name: "old", Role: models.RoleSubtitle, ClientSecret: "stale", SecretDecrypted: true})

	name, secret := "new", "rotated"
	b, err := h.registry.Update(context.Background(), "a", BackendPatch{Name: &name, ClientSecret: &secret})
	require.NoError(t, err)
	assert.Equal(t, "new", b.Name)
	assert.False(t, b.SecretDecrypted)
	assert.Empty(t, b.ClientSecret)

	stored := h.st.backend("a")
	assert.Equal(t, "new", stored.Name)
	assert.Equal(t, []byte("sealed:rotated"), stored.EncryptedClientSecret)
	assert.Len(t, h.pub.ofType(models.EventRoleCacheInvalidated), 1)

	_, err = h.registry.Update(context.Background(), "missing", BackendPatch{})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_RequiresNoFiles(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "busy", Name: "busy", FileCount: 2})
	h.st.addBackend(&models.StorageBackend{ID: "idle", Name: "idle"})

	assert.ErrorIs(t, h.registry.Delete(context.Background(), "busy"), common.ErrBackendHasFiles)
	require.NoError(t, h.registry.Delete(context.Background(), "idle"))
	assert.NotContains(t, h.st.backends, "idle")
}

func TestAssignRole(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "a", Name: "a", Role: models.RolePoster})
	h.st.addBackend(&models.StorageBackend{ID: "b", Name: "b"})
	h.st.addBackend(&models.StorageBackend{ID: "c", Name: "c", Role: models.RoleSource, FileCount: 1})
	expectCommits(h.mock, 2)
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	ctx := context.Background()
	require.NoError(t, h.registry.AssignRole(ctx, "b", models.RoleBackdrop))
	assert.Equal(t, models.RoleBackdrop, h.st.backend("b").Role)

	// Same role again is a no-op.
	require.NoError(t, h.registry.AssignRole(ctx, "b", models.RoleBackdrop))

	assert.ErrorIs(t, h.registry.AssignRole(ctx, "b", models.RolePoster), common.ErrRoleAlreadyAssigned)
	assert.ErrorIs(t, h.registry.AssignRole(ctx, "c", models.RoleSubtitle), common.ErrBackendHasFiles)
	assert.ErrorContains(t, h.registry.AssignRole(ctx, "b", models.RoleNone), "invalid role")
	h.verify()

	assert.Len(t, h.pub.ofType(models.EventRoleCacheInvalidated), 1)
}

func TestClearRole(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "a", Name: "a", Role: models.RolePoster})
	h.st.addBackend(&models.StorageBackend{ID: "b", Name: "b", Role: models.RoleSource, FileCount: 4})
	h.cache.Put(models.RolePoster, &models.StorageBackend{ID: "a"}, newFakeAdapter())

	require.NoError(t, h.registry.ClearRole(context.Background(), "a"))
	assert.Equal(t, models.RoleNone, h.st.backend("a").Role)
	_, _, ok := h.cache.Get(models.RolePoster)
	assert.False(t, ok)

	assert.ErrorIs(t, h.registry.ClearRole(context.Background(), "b"), common.ErrBackendHasFiles)
	assert.Equal(t, models.RoleSource, h.st.backend("b").Role)
}

func TestSaveToken_InvalidatesRoleCache(t *testing.T) {
	h := newHarness(t)
	b := h.st.addBackend(&models.StorageBackend{ID: "a", Name: "a", Role: models.RoleSubtitle})
	h.cache.Put(models.RoleSubtitle, b, newFakeAdapter())

	expiry := time.Now().Add(time.Hour).UTC()
	require.NoError(t, h.registry.SaveToken(context.Background(), b, &models.OAuthToken{AccessToken: "at", RefreshToken: "rt", Expiry: expiry}))

	stored := h.st.backend("a")
	assert.Equal(t, "at", stored.AccessToken)
	assert.Equal(t, "rt", stored.RefreshToken)

	_, _, ok := h.cache.Get(models.RoleSubtitle)
	assert.False(t, ok)
	assert.Len(t, h.pub.ofType(models.EventRoleCacheInvalidated), 1)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "a", Name: "a", Role: models.RoleSource, UsedBytes: 100, FileCount: 2})
	h.st.addBackend(&models.StorageBackend{ID: "b", Name: "b", Role: models.RoleSource, UsedBytes: 50, FileCount: 1})
	h.st.addBackend(&models.StorageBackend{ID: "c", Name: "c", Role: models.RolePoster, UsedBytes: 7, FileCount: 7})

	s, err := h.registry.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Backends)
	assert.Equal(t, int64(157), s.UsedBytes)
	assert.Equal(t, int64(10), s.Files)
	assert.Equal(t, int64(150), s.ByRole[models.RoleSource])
}
