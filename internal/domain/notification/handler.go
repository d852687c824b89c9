package notification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.GuardFunc) {
	anyRole := api.Group("", guard(auth.RoleDoctor, auth.RolePatient, auth.RoleMedicalOwner, auth.RoleSubAdmin))
	anyRole.GET("/notifications", h.List)
	anyRole.GET("/notifications/unread-count", h.UnreadCount)
	anyRole.POST("/notifications/read-all", h.MarkAllRead)
	anyRole.POST("/notifications/:id/read", h.MarkRead)
	anyRole.DELETE("/notifications/:id", h.Delete)

	admin := api.Group("", guard(auth.RoleSubAdmin))
	admin.POST("/notifications", h.Send)
	admin.POST("/notifications/broadcast", h.Broadcast)
}

// callerRecipient identifies the authenticated principal, whatever role
// logged in.
func callerRecipient(c echo.Context) (Recipient, error) {
	role, ok := auth.RoleFromContext(c)
	if !ok {
		return Recipient{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	subject, ok := auth.SubjectFromContext(c)
	if !ok {
		return Recipient{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return Recipient{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return Recipient{Role: role, ID: id}, nil
}

func (h *Handler) List(c echo.Context) error {
	rec, err := callerRecipient(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	ns, total, err := h.svc.List(c.Request().Context(), rec, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list notifications")
	}
	if ns == nil {
		ns = []*Notification{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ns, total, p.Limit, p.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	rec, err := callerRecipient(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), rec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count notifications")
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	rec, err := callerRecipient(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid notification id")
	}
	switch err := h.svc.MarkRead(c.Request().Context(), rec, id); {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update notification")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "notification marked as read"})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	rec, err := callerRecipient(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkAllRead(c.Request().Context(), rec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update notifications")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "all notifications marked as read"})
}

func (h *Handler) Delete(c echo.Context) error {
	rec, err := callerRecipient(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid notification id")
	}
	switch err := h.svc.Delete(c.Request().Context(), rec, id); {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete notification")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "notification deleted"})
}

func (h *Handler) Send(c echo.Context) error {
	var body struct {
		RecipientRole string `json:"recipientRole"`
		RecipientID   string `json:"recipientId"`
		Title         string `json:"title"`
		Body          string `json:"body"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role, err := auth.ParseRole(body.RecipientRole)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown recipient role")
	}
	recipientID, err := uuid.Parse(body.RecipientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recipient id")
	}
	n, err := h.svc.Send(c.Request().Context(), SendInput{
		RecipientRole: role,
		RecipientID:   recipientID,
		Title:         body.Title,
		Body:          body.Body,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) Broadcast(c echo.Context) error {
	var body struct {
		Role  string `json:"role"`
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role, err := auth.ParseRole(body.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}
	count, err := h.svc.Broadcast(c.Request().Context(), role, body.Title, body.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]int{"delivered": count})
}
