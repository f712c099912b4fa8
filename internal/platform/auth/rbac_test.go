package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func doRequest(t *testing.T, mw echo.MiddlewareFunc, roles []string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		ctx := context.WithValue(req.Context(), UserRolesKey, roles)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestRequireRole_Allows(t *testing.T) {
	rec := doRequest(t, RequireRole(RoleTherapist), []string{RoleTherapist})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	rec := doRequest(t, RequireRole(RoleGuardian), []string{RoleAdmin})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	rec := doRequest(t, RequireRole(RoleAdmin), []string{RoleGuardian})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	rec := doRequest(t, RequireRole(RoleTherapist), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with no roles, got %d", rec.Code)
	}
}

func TestHasRole(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", RoleTherapist)
	if !HasRole(ctx, RoleTherapist) {
		t.Error("expected therapist role present")
	}
	if HasRole(ctx, RoleAdmin) {
		t.Error("did not expect admin role")
	}
}
