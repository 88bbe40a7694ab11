package billing

import (
	"net/http"

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
	// Catalogue and line items
	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RoleAccountant))
	clinical.GET("/services", h.ListServices)
	clinical.GET("/sessions/:id/services", h.ListSessionServices)
	clinical.POST("/sessions/:id/services", h.AddServiceToSession)

	// Money
	money := api.Group("", auth.RequireRole(auth.RoleAccountant, auth.RoleReceptionist))
	money.POST("/services", h.CreateService)
	money.POST("/bills", h.CreateBill)
	money.GET("/bills/:id", h.GetBill)
	money.GET("/patients/:id/unpaid-bills", h.ListUnpaidBills)
	money.POST("/bills/:id/payments", h.CreatePayment)
	money.POST("/bills/:id/reconcile", h.MarkAsPaid)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createServiceRequest struct {
	Name            string `json:"name"`
	Price           Money  `json:"price"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) CreateService(c echo.Context) error {
	var req createServiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.svc.CreateService(c.Request().Context(), req.Name, req.Price, req.DurationMinutes)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) ListServices(c echo.Context) error {
	items, err := h.svc.ListServices(c.Request().Context())
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddServiceToSession(c echo.Context) error {
	sessionID, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		ServiceID uuid.UUID `json:"service_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddServiceToSession(c.Request().Context(), sessionID, req.ServiceID); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSessionServices(c echo.Context) error {
	sessionID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSessionServices(c.Request().Context(), sessionID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"services": items, "total": Total(items)})
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req struct {
		PatientID uuid.UUID `json:"patient_id"`
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.svc.CreateBill(c.Request().Context(), req.PatientID, req.SessionID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListUnpaidBills(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListUnpaidBills(c.Request().Context(), patientID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreatePayment(c echo.Context) error {
	billID, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Amount Money         `json:"amount"`
		Method PaymentMethod `json:"method"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.svc.CreatePayment(c.Request().Context(), billID, req.Amount, req.Method)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) MarkAsPaid(c echo.Context) error {
	billID, err := parseID(c)
	if err != nil {
		return err
	}
	paid, err := h.svc.MarkAsPaid(c.Request().Context(), billID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"paid": paid})
}
