package queue

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/platform/session"
)

type Handler struct {
	svc    *Service
	tokens *session.Issuer
}

func NewHandler(svc *Service, tokens *session.Issuer) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

// RegisterRoutes mounts session creation on api and every other admin
// route on admin, which must run session.Middleware.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.POST("/admin/session", h.OpenSession)

	admin.DELETE("/session", h.CloseSession)
	admin.POST("/discard", h.Discard)
	admin.GET("/toasts", h.Toasts)

	admin.POST("/patients", h.AddPatient)
	admin.POST("/patients/reorder", h.Reorder)
	admin.DELETE("/patients/completed", h.DeleteCompleted)
	admin.PUT("/patients/:id/status", h.ChangeStatus)
	admin.DELETE("/patients/:id", h.DeletePatient)

	admin.PATCH("/settings", h.UpdateSettings)
	admin.PUT("/rooms/:room/name", h.SetRoomName)
	admin.PUT("/rooms/:room/doctor", h.SetDoctorName)
	admin.POST("/notices", h.AddNotice)
	admin.DELETE("/notices/:index", h.RemoveNotice)

	admin.POST("/statuses", h.AddStatus)
	admin.POST("/statuses/reorder", h.MoveStatus)
	admin.PUT("/statuses/:id", h.EditStatus)
	admin.DELETE("/statuses/:id", h.DeleteStatus)

	admin.POST("/save", h.Save)
}

// httpError maps service errors onto HTTP responses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrStoreNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrUnsavedChanges):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, clinic.ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownStatus),
		errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrEmptyLabel),
		errors.Is(err, ErrEmptyNotice),
		errors.Is(err, ErrNoticeIndex),
		errors.Is(err, ErrBannerIndex):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Ready     bool      `json:"ready"`
}

func (h *Handler) OpenSession(c echo.Context) error {
	ws := h.svc.OpenSession()
	token, exp, err := h.tokens.Issue(ws.ID())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, sessionResponse{
		SessionID: ws.ID(),
		Token:     token,
		ExpiresAt: exp,
		Ready:     h.svc.Ready(),
	})
}

func (h *Handler) CloseSession(c echo.Context) error {
	confirm, _ := strconv.ParseBool(c.QueryParam("confirm"))
	if err := h.svc.CloseSession(session.FromContext(c), confirm); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Discard(c echo.Context) error {
	if err := h.svc.Discard(session.FromContext(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Toasts(c echo.Context) error {
	ws, err := h.svc.Session(session.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ws.Toasts())
}

type addPatientRequest struct {
	RoomID    clinic.RoomID `json:"roomId"`
	Name      string        `json:"name"`
	BirthDate string        `json:"birthDate"`
}

func (h *Handler) AddPatient(c echo.Context) error {
	var req addPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.AddPatient(c.Request().Context(), session.FromContext(c), req.RoomID, req.Name, req.BirthDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	var req changeStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.ChangeStatus(c.Request().Context(), session.FromContext(c), c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.DeletePatient(c.Request().Context(), session.FromContext(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteCompleted(c echo.Context) error {
	n, err := h.svc.DeleteCompleted(c.Request().Context(), session.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

type reorderRequest struct {
	DraggedID string `json:"draggedId"`
	TargetID  string `json:"targetId"`
}

func (h *Handler) Reorder(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ok, err := h.svc.Reorder(c.Request().Context(), session.FromContext(c), req.DraggedID, req.TargetID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"reordered": ok})
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	var patch SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateSettings(session.FromContext(c), patch); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) SetRoomName(c echo.Context) error {
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetRoomName(session.FromContext(c), clinic.RoomID(c.Param("room")), req.Name); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetDoctorName(c echo.Context) error {
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetDoctorName(session.FromContext(c), clinic.RoomID(c.Param("room")), req.Name); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type noticeRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddNotice(c echo.Context) error {
	var req noticeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddNotice(session.FromContext(c), req.Text); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveNotice(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	if err := h.svc.RemoveNotice(session.FromContext(c), index); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addStatusRequest struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

func (h *Handler) AddStatus(c echo.Context) error {
	var req addStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.AddStatus(session.FromContext(c), req.Label, req.Color)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) EditStatus(c echo.Context) error {
	var edit StatusEdit
	if err := c.Bind(&edit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.EditStatus(session.FromContext(c), c.Param("id"), edit)
	if err != nil {
		if errors.Is(err, ErrUnknownStatus) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStatus(c echo.Context) error {
	if err := h.svc.DeleteStatus(session.FromContext(c), c.Param("id")); err != nil {
		if errors.Is(err, ErrUnknownStatus) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MoveStatus(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ok, err := h.svc.MoveStatus(session.FromContext(c), req.DraggedID, req.TargetID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"reordered": ok})
}

func (h *Handler) Save(c echo.Context) error {
	if err := h.svc.Save(c.Request().Context(), session.FromContext(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
