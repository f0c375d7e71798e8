package report

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Source supplies the live queue.
type Source interface {
	Live() ([]clinic.Patient, clinic.ClinicSettings)
}

// Handler provides HTTP handlers for reports over the live queue.
type Handler struct {
	src Source
	loc *time.Location
	now func() time.Time
}

func NewHandler(src Source, loc *time.Location) *Handler {
	return &Handler{src: src, loc: loc, now: time.Now}
}

// RegisterRoutes mounts the report routes on the admin group.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/reports/measures", h.ListMeasures)
	admin.GET("/reports/measures/:id/evaluate", h.EvaluateMeasure)
	admin.GET("/completed/export", h.ExportCompleted)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	patients, settings := h.src.Live()
	return c.JSON(http.StatusOK, m.Evaluate(patients, settings, h.now()))
}

func (h *Handler) ExportCompleted(c echo.Context) error {
	patients, settings := h.src.Live()
	data, err := Workbook(patients, settings, h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	name := fmt.Sprintf("visits-%s.xlsx", h.now().In(h.location()).Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxMIME, data)
}

func (h *Handler) location() *time.Location {
	if h.loc == nil {
		return time.Local
	}
	return h.loc
}
