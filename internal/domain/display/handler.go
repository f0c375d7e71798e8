package display

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/platform/blobstore"
	"github.com/clinicq/clinicq/internal/platform/session"
)

// Handler serves both boards and the banner image endpoints.
type Handler struct {
	svc        *queue.Service
	clinicName string
	logger     zerolog.Logger

	mu     sync.RWMutex
	local  blobstore.BlobStore
	remote blobstore.BlobStore
}

// NewHandler builds a handler. local always holds fallback uploads; a
// remote bucket can be attached later with SetRemote.
func NewHandler(svc *queue.Service, local blobstore.BlobStore, clinicName string, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:        svc,
		clinicName: clinicName,
		local:      local,
		logger:     logger.With().Str("component", "display").Logger(),
	}
}

// SetRemote switches new uploads to a bucket store. nil reverts to local.
func (h *Handler) SetRemote(store blobstore.BlobStore) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remote = store
}

func (h *Handler) uploadTarget() blobstore.BlobStore {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.remote != nil {
		return h.remote
	}
	return h.local
}

func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.GET("/display", h.PublicBoard)
	api.GET("/display/banners/:id", h.Banner)

	admin.GET("/board", h.AdminBoard)
	admin.POST("/banners", h.UploadBanner)
	admin.DELETE("/banners/:index", h.RemoveBanner)
}

// localRefs lists the references of every locally stored banner.
func (h *Handler) localRefs(ctx context.Context) []string {
	items, err := h.local.List(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to list local banners")
		return nil
	}
	refs := make([]string, 0, len(items))
	for _, meta := range items {
		refs = append(refs, h.local.Ref(*meta))
	}
	return refs
}

// Public renders the waiting-room display from the live copy.
func (h *Handler) Public(ctx context.Context) PublicView {
	patients, settings := h.svc.Live()
	return PublicBoard(h.clinicName, patients, settings, MergeBanners(settings.BannerImages, h.localRefs(ctx)))
}

// Admin renders the board of one session.
func (h *Handler) Admin(ctx context.Context, sessionID string) (AdminView, error) {
	ws, err := h.svc.Session(sessionID)
	if err != nil {
		return AdminView{}, err
	}
	st := ws.State()
	return AdminBoard(st, MergeBanners(st.DraftSettings.BannerImages, h.localRefs(ctx))), nil
}

func (h *Handler) PublicBoard(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Public(c.Request().Context()))
}

func (h *Handler) AdminBoard(c echo.Context) error {
	view, err := h.Admin(c.Request().Context(), session.FromContext(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Banner(c echo.Context) error {
	rc, meta, err := h.local.Download(c.Request().Context(), c.Param("id"))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "banner not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

type bannerResponse struct {
	Ref string `json:"ref"`
}

func (h *Handler) UploadBanner(c echo.Context) error {
	sid := session.FromContext(c)
	if err := h.svc.CheckWritable(sid); err != nil {
		return bannerError(err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	meta := blobstore.BlobMetadata{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	}
	if err := blobstore.Validate(meta); err != nil {
		h.svc.Notify(sid, queue.MsgBannerNotImage, queue.ToastError)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if fh.Size > blobstore.MaxFileSize {
		h.svc.Notify(sid, queue.MsgBannerTooLarge, queue.ToastError)
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, blobstore.ErrFileTooLarge.Error())
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	ctx := c.Request().Context()
	store := h.uploadTarget()
	stored, err := store.Upload(ctx, meta, f)
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			h.svc.Notify(sid, queue.MsgBannerTooLarge, queue.ToastError)
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		h.logger.Error().Err(err).Str("file", fh.Filename).Msg("banner upload failed")
		h.svc.Notify(sid, queue.MsgBannerFailed, queue.ToastError)
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	ref := store.Ref(*stored)
	if err := h.svc.AddBanner(sid, ref); err != nil {
		if delErr := store.Delete(ctx, stored.ID); delErr != nil {
			h.logger.Warn().Err(delErr).Str("ref", ref).Msg("failed to release banner")
		}
		return bannerError(err)
	}
	return c.JSON(http.StatusCreated, bannerResponse{Ref: ref})
}

// RemoveBanner drops the banner at index of the merged list. Indexes inside
// the draft list edit the draft; indexes past it address local uploads that
// no settings document references. Releasing the stored image is best
// effort.
func (h *Handler) RemoveBanner(c echo.Context) error {
	sid := session.FromContext(c)
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be a number")
	}
	ctx := c.Request().Context()

	view, err := h.Admin(ctx, sid)
	if err != nil {
		return bannerError(err)
	}
	ws, _ := h.svc.Session(sid)
	draft := len(ws.State().DraftSettings.BannerImages)

	var ref string
	switch {
	case index >= 0 && index < draft:
		ref, err = h.svc.RemoveBanner(sid, index)
		if err != nil {
			return bannerError(err)
		}
	case index >= draft && index < len(view.Banners):
		if err := h.svc.CheckWritable(sid); err != nil {
			return bannerError(err)
		}
		ref = view.Banners[index]
		h.svc.Notify(sid, queue.MsgBannerRemoved, queue.ToastSuccess)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, queue.ErrBannerIndex.Error())
	}

	h.release(ctx, ref)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) release(ctx context.Context, ref string) {
	h.mu.RLock()
	stores := []blobstore.BlobStore{h.local}
	if h.remote != nil {
		stores = append(stores, h.remote)
	}
	h.mu.RUnlock()

	for _, store := range stores {
		id, ok := store.Resolve(ref)
		if !ok {
			continue
		}
		if err := store.Delete(ctx, id); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			h.logger.Warn().Err(err).Str("ref", ref).Msg("failed to release banner")
		}
		return
	}
}

func bannerError(err error) error {
	switch {
	case errors.Is(err, queue.ErrStoreNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, queue.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, queue.ErrBannerIndex):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
