package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/database"
	"github.com/tfdgestao/relatorios/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (*Authenticator, *gin.Engine, *models.User, *models.User) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	admin := &models.User{Username: "admin", Role: models.RoleAdmin, Email: "admin@example.org", IsActive: true}
	require.NoError(t, admin.SetPassword("pw"))
	require.NoError(t, db.Create(admin).Error)
	viewer := &models.User{Username: "viewer", Role: models.RoleViewer, Email: "viewer@example.org", IsActive: true}
	require.NoError(t, viewer.SetPassword("pw"))
	require.NoError(t, db.Create(viewer).Error)

	a := NewAuthenticator("test-secret", db)
	r := gin.New()
	g := r.Group("/", a.Middleware())
	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": CurrentUser(c).Username})
	})
	g.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return a, r, admin, viewer
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	a, r, admin, viewer := setup(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "garbage").Code)

	adminToken, err := a.GenerateToken(admin)
	require.NoError(t, err)
	rec := do(r, "/me", adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin")
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", adminToken).Code)

	viewerToken, err := a.GenerateToken(viewer)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, "/me", viewerToken).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", viewerToken).Code)
}

func TestMiddleware_RejectsForeignAndExpiredTokens(t *testing.T) {
	a, r, admin, _ := setup(t)

	other := NewAuthenticator("another-secret", a.db)
	token, err := other.GenerateToken(admin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", token).Code)

	a.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := a.GenerateToken(admin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", expired).Code)
}

func TestMiddleware_InactiveUser(t *testing.T) {
	a, r, admin, _ := setup(t)
	token, err := a.GenerateToken(admin)
	require.NoError(t, err)

	require.NoError(t, a.db.Model(admin).Update("is_active", false).Error)
	assert.Equal(t, http.StatusForbidden, do(r, "/me", token).Code)
}
