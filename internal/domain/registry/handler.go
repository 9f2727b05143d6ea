package registry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mediscan/mediscan/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.SearchPatients)
	api.GET("/patients/:id", h.GetPatient)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	pg := pagination.FromContext(c)

	hits, total, err := h.svc.Search(c.Request().Context(), q, pg.Limit, pg.Offset)
	if errors.Is(err, ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(hits, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// internalError hides err from the client; the request log records it.
func internalError(err error) error {
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
