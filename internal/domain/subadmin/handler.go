package subadmin

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/pkg/pagination"
)

const refreshCookieName = "refreshToken"

type Handler struct {
	svc        *Service
	refreshTTL time.Duration
}

func NewHandler(svc *Service, refreshTTL time.Duration) *Handler {
	return &Handler{svc: svc, refreshTTL: refreshTTL}
}

func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.GuardFunc) {
	api.POST("/auth/admin/login", h.Login)
	api.POST("/auth/admin/refresh", h.Refresh)
	api.POST("/auth/admin/logout", h.Logout)

	admin := api.Group("", guard(auth.RoleSubAdmin))
	admin.POST("/admins", h.Register)
	admin.GET("/admins", h.List)
	admin.GET("/admins/me", h.Me)
	admin.PUT("/admins/me", h.UpdateSelf)
	admin.GET("/admins/:id", h.Get)
	admin.DELETE("/admins/:id", h.Delete)
}

func subAdminFromContext(c echo.Context) (*SubAdmin, bool) {
	a, ok := c.Get(auth.RoleSubAdmin.ContextKey()).(*SubAdmin)
	return a, ok
}

func (h *Handler) setRefreshCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.refreshTTL.Seconds()),
	})
}

func (h *Handler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/v1/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, pair, err := h.svc.Login(c.Request().Context(), body.Email, body.Password)
	if err == ErrInvalidCredentials {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	h.setRefreshCookie(c, pair.RefreshToken)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "login successful",
		"accessToken": pair.AccessToken,
		"admin":       a,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "missing refresh token"})
	}
	a, pair, err := h.svc.Refresh(c.Request().Context(), cookie.Value)
	if err == auth.ErrInvalidToken {
		h.clearRefreshCookie(c)
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "invalid or expired refresh token"})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "refresh failed")
	}
	h.setRefreshCookie(c, pair.RefreshToken)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "token refreshed",
		"accessToken": pair.AccessToken,
		"admin":       a,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		_ = h.svc.Logout(c.Request().Context(), cookie.Value)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Register(c.Request().Context(), in)
	if err == ErrEmailTaken {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "sub-admin registered",
		"admin":   a,
	})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	admins, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(admins, total, pg.Limit, pg.Offset))
}

func (h *Handler) Me(c echo.Context) error {
	a, ok := subAdminFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateSelf(c echo.Context) error {
	a, ok := subAdminFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.Update(c.Request().Context(), a.ID, in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "sub-admin not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

// Delete removes another sub-admin account. Deleting yourself is rejected
// so the system cannot lose its last administrator by accident.
func (h *Handler) Delete(c echo.Context) error {
	a, ok := subAdminFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if id == a.ID {
		return echo.NewHTTPError(http.StatusConflict, "cannot delete your own account")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "sub-admin not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
