package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.token = token
	return s.claims, s.err
}

type stubAuditStore struct {
	logs []*models.AuditLog
}

func (s *stubAuditStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubObserver struct {
	paths    []string
	statuses []int
}

func (s *stubObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	s.paths = append(s.paths, path)
	s.statuses = append(s.statuses, status)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/items/:id", handlers...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/items/1?format=csv", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStaff, OrganizationID: "org-1"}}
	r := newRouter(JWT(validator), func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		require.NotNil(t, claims)
		assert.Equal(t, "org-1", claims.OrganizationID)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer ").Code)

	w := serve(r, "Bearer token-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token-1", validator.token)

	validator.err = appErrors.Clone(appErrors.ErrUnauthorized, "expired")
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer token-1").Code)
}

func TestRequireRoles(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStaff, OrganizationID: "org-1"}}
	r := newRouter(JWT(validator), RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))

	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer t").Code)

	validator.claims.Role = models.RoleSuperAdmin
	assert.Equal(t, http.StatusOK, serve(r, "Bearer t").Code)

	bare := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, "").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	store := &stubAuditStore{}
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, OrganizationID: "org-1"}}
	r := newRouter(JWT(validator), Audit(store, nil, models.AuditActionLoanExport, "loan"))

	require.Equal(t, http.StatusOK, serve(r, "Bearer t").Code)
	require.Len(t, store.logs, 1)
	assert.Equal(t, models.AuditActionLoanExport, store.logs[0].Action)
	require.NotNil(t, store.logs[0].UserID)
	assert.Equal(t, "u1", *store.logs[0].UserID)
	assert.Contains(t, string(store.logs[0].NewValues), `"query":"format=csv"`)

	validator.err = errors.New("bad token")
	serve(r, "Bearer t")
	assert.Len(t, store.logs, 1)
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	observer := &stubObserver{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/42", nil))

	assert.Equal(t, []string{"/items/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}

func TestResponseMetaStampsProcessingTime(t *testing.T) {
	var meta map[string]interface{}
	r := newRouter(WithResponseMeta(), func(c *gin.Context) {
		SetMeta(c, "cache_hit", true)
		meta = ExtractMeta(c)
	})
	serve(r, "")
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}
