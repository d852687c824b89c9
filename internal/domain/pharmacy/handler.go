package pharmacy

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
	api.POST("/auth/owner/register", h.Register)
	api.POST("/auth/owner/login", h.Login)
	api.POST("/auth/owner/refresh", h.Refresh)
	api.POST("/auth/owner/logout", h.Logout)

	self := api.Group("", guard(auth.RoleMedicalOwner))
	self.GET("/pharmacy/me", h.Me)
	self.PUT("/pharmacy/me", h.UpdateProfile)
	self.PUT("/pharmacy/me/smtp", h.ConfigureSMTP)

	self.POST("/pharmacy/medicines", h.AddMedicine)
	self.POST("/pharmacy/medicines/import", h.ImportMedicines)
	self.GET("/pharmacy/medicines", h.ListMedicines)
	self.GET("/pharmacy/medicines/:id", h.GetMedicine)
	self.PUT("/pharmacy/medicines/:id", h.UpdateMedicine)
	self.DELETE("/pharmacy/medicines/:id", h.DeleteMedicine)

	self.POST("/pharmacy/bills", h.Sell)
	self.GET("/pharmacy/bills", h.ListBills)
	self.GET("/pharmacy/bills/:id", h.GetBill)
	self.GET("/pharmacy/bills/:id/qr", h.BillQR)
	self.GET("/pharmacy/bills/:id/pdf", h.DownloadBillPDF)
}

func ownerFromContext(c echo.Context) (*MedicalOwner, bool) {
	o, ok := c.Get(auth.RoleMedicalOwner.ContextKey()).(*MedicalOwner)
	return o, ok
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

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o, err := h.svc.Register(c.Request().Context(), in)
	if err == ErrEmailTaken {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "owner registered",
		"owner":   o,
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
	o, pair, err := h.svc.Login(c.Request().Context(), body.Email, body.Password)
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
		"owner":       o,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "missing refresh token"})
	}
	o, pair, err := h.svc.Refresh(c.Request().Context(), cookie.Value)
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
		"owner":       o,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		_ = h.svc.Logout(c.Request().Context(), cookie.Value)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Me(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.UpdateProfile(c.Request().Context(), o.ID, in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ConfigureSMTP(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in SMTPInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ConfigureSMTP(c.Request().Context(), o.ID, in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "smtp settings saved"})
}

func (h *Handler) AddMedicine(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in MedicineInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.AddMedicine(c.Request().Context(), o.ID, in)
	if err == ErrMedicineNameTaken {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ImportMedicines(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var body struct {
		Medicines []MedicineInput `json:"medicines"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := h.svc.ImportMedicines(c.Request().Context(), o.ID, body.Medicines)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListMedicines(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	pg := pagination.FromContext(c)
	medicines, total, err := h.svc.ListMedicines(c.Request().Context(), o.ID, c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(medicines, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMedicine(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedicine(c.Request().Context(), o.ID, id)
	if err == ErrMedicineNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMedicine(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in MedicineInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.UpdateMedicine(c.Request().Context(), o.ID, id, in)
	if err == ErrMedicineNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
	}
	if err == ErrMedicineNameTaken {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMedicine(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteMedicine(c.Request().Context(), o.ID, id); err != nil {
		if err == ErrMedicineNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Sell(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in SaleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	bill, err := h.svc.Sell(c.Request().Context(), o.ID, in)
	if err == ErrInsufficientStock {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err == ErrMedicineNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) ListBills(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	pg := pagination.FromContext(c)
	bills, total, err := h.svc.ListBills(c.Request().Context(), o.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBill(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.GetBill(c.Request().Context(), o.ID, id)
	if err == ErrBillNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) BillQR(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	payload, err := h.svc.QRPayload(c.Request().Context(), o.ID, id)
	if err == ErrBillNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"payload": payload})
}

func (h *Handler) DownloadBillPDF(c echo.Context) error {
	o, ok := ownerFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.GetBill(c.Request().Context(), o.ID, id)
	if err == ErrBillNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bill.PDFFileID == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill has no generated pdf")
	}

	content, meta, err := h.files.Open(c.Request().Context(), bill.PDFFileID.String())
	if err == blobstore.ErrFileNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer content.Close()

	c.Response().Header().Set(echo.HeaderContentType, meta.ContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+meta.FileName+`"`)
	http.ServeContent(c.Response(), c.Request(), meta.FileName, meta.CreatedAt, content)
	return nil
}
