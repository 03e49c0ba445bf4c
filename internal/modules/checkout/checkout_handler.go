package checkout

import (
	"errors"
	"net/http"

	"weddingpay/internal/models"

	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for wallet checkouts.
type Handler struct {
	svc ServiceInterface
}

// NewHandler creates a new checkout handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the checkout routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/intents", h.CreateIntent)
	g.GET("/intents/:intentId", h.GetIntent)
	g.POST("/intents/:intentId/check", h.ManualCheck)
	g.POST("/intents/:intentId/session", h.ResumeSession)
	g.DELETE("/intents/:intentId/session", h.CancelSession)
}

func (h *Handler) CreateIntent(c echo.Context) error {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Unauthorized"})
	}

	var req models.CreateIntentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}

	resp, err := h.svc.StartCheckout(c.Request().Context(), userID, req)
	if err != nil {
		return h.fail(c, "Handler.CreateIntent", "Failed to create payment intent", err)
	}

	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetIntent(c echo.Context) error {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Unauthorized"})
	}

	status, err := h.svc.GetStatus(c.Request().Context(), userID, c.Param("intentId"))
	if err != nil {
		return h.fail(c, "Handler.GetIntent", "Failed to retrieve payment status", err)
	}

	return c.JSON(http.StatusOK, status)
}

// ManualCheck backs the "I've completed payment" button.
func (h *Handler) ManualCheck(c echo.Context) error {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Unauthorized"})
	}

	res, err := h.svc.ManualCheck(c.Request().Context(), userID, c.Param("intentId"))
	if err != nil {
		return h.fail(c, "Handler.ManualCheck", "Failed to check payment", err)
	}

	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ResumeSession(c echo.Context) error {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Unauthorized"})
	}

	status, err := h.svc.ResumeSession(c.Request().Context(), userID, c.Param("intentId"))
	if err != nil {
		return h.fail(c, "Handler.ResumeSession", "Failed to resume reconciliation", err)
	}

	return c.JSON(http.StatusOK, status)
}

func (h *Handler) CancelSession(c echo.Context) error {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Unauthorized"})
	}

	if err := h.svc.CancelSession(c.Request().Context(), userID, c.Param("intentId")); err != nil {
		return h.fail(c, "Handler.CancelSession", "Failed to cancel reconciliation", err)
	}

	return c.NoContent(http.StatusNoContent)
}

// fail maps service errors onto HTTP responses. Unknown errors are logged and
// hidden behind fallback.
func (h *Handler) fail(c echo.Context, op, fallback string, err error) error {
	var verr *models.ValidationError
	var perr *models.ProviderError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: verr.Error()})
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Payment intent not found"})
	case errors.Is(err, models.ErrSessionExists):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Reconciliation already settled or running"})
	case errors.Is(err, models.ErrSessionCancelled):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Reconciliation was cancelled"})
	case errors.As(err, &perr) && !perr.Transient():
		return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Message: "Payment provider rejected the request"})
	case errors.As(err, &perr):
		c.Logger().Error(op+": ", err)
		return c.JSON(http.StatusBadGateway, models.ErrorResponse{Message: "Payment provider unavailable, please retry"})
	}
	c.Logger().Error(op+": ", err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: fallback})
}
