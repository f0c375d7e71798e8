package setup

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinicq/clinicq/internal/config"
)

// maxPasteSize bounds a pasted configuration snippet.
const maxPasteSize = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/connection", h.Get)
	admin.PUT("/connection", h.Put)
	admin.DELETE("/connection", h.Delete)
	admin.POST("/connection/paste", h.Paste)
}

func (h *Handler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Status())
}

func (h *Handler) Put(c echo.Context) error {
	var conn config.Connection
	if err := c.Bind(&conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st, err := h.svc.Save(c.Request().Context(), conn)
	switch {
	case errors.Is(err, config.ErrConnectionIncomplete):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConnectFailed):
		return c.JSON(http.StatusBadGateway, st)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Delete(c echo.Context) error {
	if c.QueryParam("confirm") != "true" {
		return echo.NewHTTPError(http.StatusBadRequest, "confirm=true is required to clear the connection")
	}
	st, err := h.svc.Reset(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

type pasteRequest struct {
	Text string `json:"text"`
}

// Paste accepts the snippet either as {"text": "..."} or as a raw text body
// and answers with the merged form values. Nothing is saved.
func (h *Handler) Paste(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPasteSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	text := string(body)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req pasteRequest
		if err := json.Unmarshal(body, &req); err == nil && req.Text != "" {
			text = req.Text
		}
	}

	conn, err := h.svc.Preview(text)
	if errors.Is(err, config.ErrInvalidConnectionText) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, conn)
}
