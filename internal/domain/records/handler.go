package records

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mediscan/mediscan/internal/domain/registry"
)

// PatientSource looks up registry patients by id.
type PatientSource interface {
	Get(ctx context.Context, id string) (*registry.Patient, error)
}

// Handler opens the records view of a registry patient, as reached from
// patient search.
type Handler struct {
	patients PatientSource
}

func NewHandler(patients PatientSource) *Handler {
	return &Handler{patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/records", h.GetPatientRecords)
}

func (h *Handler) GetPatientRecords(c echo.Context) error {
	tab, err := ParseTab(c.QueryParam("tab"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := h.patients.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, map[string]interface{}{
			"error":    "no patient data found",
			"recovery": map[string]string{"label": "Go Back", "path": "back"},
		})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	view, err := Render(p, tab, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, view)
}
