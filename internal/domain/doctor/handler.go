package doctor

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/pkg/pagination"
)

const refreshCookieName = "refreshToken"

type Handler struct {
	svc        *Service
	files      blobstore.Store
	refreshTTL time.Duration
}

func NewHandler(svc *Service, files blobstore.Store, refreshTTL time.Duration) *Handler {
	return &Handler{svc: svc, files: files, refreshTTL: refreshTTL}
}

func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.GuardFunc) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.Logout)
	api.POST("/auth/password-reset/request", h.RequestPasswordReset)
	api.POST("/auth/password-reset/confirm", h.ConfirmPasswordReset)

	admin := api.Group("", guard(auth.RoleSubAdmin))
	admin.POST("/doctors", h.Register)
	admin.GET("/doctors", h.List)
	admin.DELETE("/doctors/:id", h.Delete)

	self := api.Group("", guard(auth.RoleDoctor))
	self.GET("/doctors/me", h.Me)
	self.PUT("/doctors/me", h.UpdateProfile)
	self.POST("/doctors/me/password", h.ChangePassword)
	self.POST("/doctors/me/2fa/setup", h.SetupTwoFA)
	self.POST("/doctors/me/2fa/enable", h.EnableTwoFA)
	self.POST("/doctors/me/photo", h.UploadPhoto)
	self.POST("/doctors/me/signature", h.UploadSignature)
	self.POST("/doctors/me/videos", h.UploadVideo)
	self.DELETE("/doctors/me/videos/:vid", h.DeleteVideo)

	shared := api.Group("", guard(auth.RoleDoctor, auth.RoleSubAdmin))
	shared.GET("/doctors/:id", h.Get)

	// Patients watch assigned videos; the query-token fallback in the auth
	// middleware makes the stream URL usable directly in a <video> element.
	watch := api.Group("", guard(auth.RoleDoctor, auth.RolePatient))
	watch.GET("/doctors/:id/videos", h.ListVideos)
	watch.GET("/doctors/:id/videos/:vid/stream", h.StreamVideo)
}

func doctorFromContext(c echo.Context) (*Doctor, bool) {
	d, ok := c.Get(auth.RoleDoctor.ContextKey()).(*Doctor)
	return d, ok
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
		OTP      string `json:"otp"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, pair, err := h.svc.Login(c.Request().Context(), body.Email, body.Password, body.OTP)
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
		"doctor":      d,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "missing refresh token"})
	}

	d, pair, err := h.svc.Refresh(c.Request().Context(), cookie.Value)
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
		"doctor":      d,
	})
}

// Logout always succeeds; a missing or unknown cookie is treated as already
// logged out.
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
	d, err := h.svc.Register(c.Request().Context(), in)
	if err == ErrEmailTaken {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "doctor registered",
		"doctor":  d,
	})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.List(c.Request().Context(), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Me(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.UpdateProfile(c.Request().Context(), d.ID, in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := h.svc.ChangePassword(c.Request().Context(), d.ID, body.CurrentPassword, body.NewPassword)
	if err == ErrInvalidCredentials {
		return echo.NewHTTPError(http.StatusUnauthorized, "current password is incorrect")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) SetupTwoFA(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	secret, url, err := h.svc.SetupTwoFA(c.Request().Context(), d.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "scan the QR code, then enable with a valid code",
		"secret":  secret,
		"url":     url,
	})
}

func (h *Handler) EnableTwoFA(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.EnableTwoFA(c.Request().Context(), d.ID, body.Code); err != nil {
		if err == ErrTwoFANotEnrolled {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid one-time code")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "two-factor authentication enabled"})
}

func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&body); err != nil || body.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if err := h.svc.RequestPasswordReset(c.Request().Context(), body.Email); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not send reset code")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "if the address is registered, a reset code has been sent",
	})
}

func (h *Handler) ConfirmPasswordReset(c echo.Context) error {
	var body struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := h.svc.ConfirmPasswordReset(c.Request().Context(), body.Email, body.OTP, body.NewPassword)
	if err == ErrInvalidOTP {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) saveUpload(c echo.Context, category string, ownerID uuid.UUID) (*blobstore.FileMetadata, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	meta, err := h.files.Save(c.Request().Context(), blobstore.FileMetadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		OwnerID:     ownerID.String(),
		Category:    category,
	}, src)
	if err != nil {
		switch err {
		case blobstore.ErrFileTooLarge:
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case blobstore.ErrInvalidContentType:
			return nil, echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		default:
			return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return meta, nil
}

func (h *Handler) UploadPhoto(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	meta, err := h.saveUpload(c, "profile-photo", d.ID)
	if err != nil {
		return err
	}
	fileID := uuid.MustParse(meta.ID)
	updated, err := h.svc.AttachProfilePhoto(c.Request().Context(), d.ID, fileID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UploadSignature(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	meta, err := h.saveUpload(c, "signature", d.ID)
	if err != nil {
		return err
	}
	fileID := uuid.MustParse(meta.ID)
	updated, err := h.svc.AttachSignature(c.Request().Context(), d.ID, fileID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UploadVideo(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	meta, err := h.saveUpload(c, "video", d.ID)
	if err != nil {
		return err
	}
	video, err := h.svc.AddVideo(c.Request().Context(), d.ID, c.FormValue("title"), uuid.MustParse(meta.ID))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, video)
}

func (h *Handler) ListVideos(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	videos, err := h.svc.ListVideos(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if videos == nil {
		videos = []*Video{}
	}
	return c.JSON(http.StatusOK, videos)
}

// StreamVideo serves the file with range support so browsers can seek.
func (h *Handler) StreamVideo(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	videoID, err := uuid.Parse(c.Param("vid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid video id")
	}
	video, err := h.svc.GetVideo(c.Request().Context(), doctorID, videoID)
	if err == ErrVideoNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "video not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	content, meta, err := h.files.Open(c.Request().Context(), video.FileID.String())
	if err == blobstore.ErrFileNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "video file missing")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer content.Close()

	c.Response().Header().Set(echo.HeaderContentType, meta.ContentType)
	http.ServeContent(c.Response(), c.Request(), meta.FileName, meta.CreatedAt, content)
	return nil
}

func (h *Handler) DeleteVideo(c echo.Context) error {
	d, ok := doctorFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	videoID, err := uuid.Parse(c.Param("vid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid video id")
	}
	if err := h.svc.DeleteVideo(c.Request().Context(), d.ID, videoID); err != nil {
		if err == ErrVideoNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "video not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
