package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	read.GET("/sessions/:id", h.GetSession)
	read.GET("/sessions/:id/attendance", h.GetAttendance)
	read.GET("/appointments/:id/session", h.GetSessionByAppointment)
	read.GET("/attendance/summary", h.DailySummary)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	write.POST("/appointments/:id/session", h.StartSession)
	write.POST("/sessions/:id/end", h.EndSession)
	write.POST("/sessions/:id/no-show", h.MarkNoShow)
	write.POST("/sessions/:id/attendance", h.MarkAttendance)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.PUT("/sessions/:id/notes", h.AddDoctorNotes)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) StartSession(c echo.Context) error {
	apptID, err := parseID(c)
	if err != nil {
		return err
	}
	id, err := h.svc.StartSession(c.Request().Context(), apptID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetSessionByAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSessionByAppointment(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) EndSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.EndSession(c.Request().Context(), id, body.Status); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkNoShow(c.Request().Context(), id); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddDoctorNotes(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddDoctorNotes(c.Request().Context(), id, body.Notes); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type attendanceRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	IsPresent bool      `json:"is_present"`
	Notes     string    `json:"notes"`
}

func (h *Handler) MarkAttendance(c echo.Context) error {
	sessionID, err := parseID(c)
	if err != nil {
		return err
	}
	var req attendanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mark := h.svc.MarkAbsent
	if req.IsPresent {
		mark = h.svc.MarkPresent
	}
	id, err := mark(c.Request().Context(), sessionID, req.PatientID, req.Notes)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) GetAttendance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAttendance(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// DailySummary answers GET /attendance/summary?date=YYYY-MM-DD.
func (h *Handler) DailySummary(c echo.Context) error {
	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	sum, err := h.svc.DailySummary(c.Request().Context(), date)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sum)
}
