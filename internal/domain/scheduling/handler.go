package scheduling

import (
	"net/http"
	"time"

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
	dr := api.Group("", guard(auth.RoleDoctor))
	dr.POST("/appointments", h.Book)
	dr.GET("/appointments", h.List)
	dr.GET("/appointments/today", h.Today)
	dr.GET("/appointments/:id", h.Get)
	dr.POST("/appointments/:id/confirm", h.Confirm)
	dr.POST("/appointments/:id/reject", h.Reject)
	dr.POST("/appointments/:id/complete", h.Complete)
	dr.POST("/appointments/:id/cancel", h.Cancel)

	self := api.Group("", guard(auth.RolePatient))
	self.POST("/appointments/request", h.Request)
	self.GET("/appointments/mine", h.Mine)
}

func callerID(c echo.Context) uuid.UUID {
	subject, ok := auth.SubjectFromContext(c)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (h *Handler) Book(c echo.Context) error {
	var in BookInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), callerID(c), in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Request(c echo.Context) error {
	var in RequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Request(c.Request().Context(), callerID(c), in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	var f ListFilter
	if raw := c.QueryParam("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = status
	}
	if raw := c.QueryParam("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Day = day
	}
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.ListForDoctor(c.Request().Context(), callerID(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) Today(c echo.Context) error {
	summary, err := h.svc.Today(c.Request().Context(), callerID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), callerID(c), id)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Mine(c echo.Context) error {
	appts, err := h.svc.ListForPatient(c.Request().Context(), callerID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.decide(c, StatusConfirmed)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, StatusRejected)
}

func (h *Handler) decide(c echo.Context, to Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Decide(c.Request().Context(), callerID(c), id, to)
	return h.respondTransition(c, a, err)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, StatusCompleted)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, StatusCancelled)
}

func (h *Handler) transition(c echo.Context, to Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Transition(c.Request().Context(), callerID(c), id, to)
	return h.respondTransition(c, a, err)
}

func (h *Handler) respondTransition(c echo.Context, a *Appointment, err error) error {
	switch err {
	case nil:
		return c.JSON(http.StatusOK, a)
	case ErrNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case ErrInvalidTransition:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
