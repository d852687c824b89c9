package chat

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
	doctor := api.Group("", guard(auth.RoleDoctor))
	doctor.GET("/chat/:patientId", h.DoctorThread)
	doctor.POST("/chat/:patientId", h.DoctorSend)

	patient := api.Group("", guard(auth.RolePatient))
	patient.GET("/chat", h.PatientThread)
	patient.POST("/chat", h.PatientSend)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	subject, ok := auth.SubjectFromContext(c)
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func bindMessage(c echo.Context) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return body.Message, nil
}

func respondSendErr(err error) error {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to send message")
	}
}

func (h *Handler) DoctorSend(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	text, err := bindMessage(c)
	if err != nil {
		return err
	}
	m, err := h.svc.SendFromDoctor(c.Request().Context(), doctorID, patientID, text)
	if err != nil {
		return respondSendErr(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) PatientSend(c echo.Context) error {
	patientID, err := callerID(c)
	if err != nil {
		return err
	}
	text, err := bindMessage(c)
	if err != nil {
		return err
	}
	m, err := h.svc.SendFromPatient(c.Request().Context(), patientID, text)
	if err != nil {
		return respondSendErr(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) DoctorThread(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p := pagination.FromContext(c)
	ms, total, err := h.svc.ThreadForDoctor(c.Request().Context(), doctorID, patientID, p.Limit, p.Offset)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	if ms == nil {
		ms = []*Message{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ms, total, p.Limit, p.Offset))
}

func (h *Handler) PatientThread(c echo.Context) error {
	patientID, err := callerID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	ms, total, err := h.svc.ThreadForPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	if ms == nil {
		ms = []*Message{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ms, total, p.Limit, p.Offset))
}
