package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/platform/blobstore"
	"github.com/clinicq/clinicq/internal/platform/realtime"
	"github.com/clinicq/clinicq/internal/platform/session"
)

const bannerPrefix = "/api/v1/display/banners/"

type testEnv struct {
	svc    *queue.Service
	h      *Handler
	local  *blobstore.InMemoryBlobStore
	client *realtime.Client
}

func newTestEnv(t *testing.T, connected bool) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	client := realtime.NewClient(logger)
	if connected {
		if err := client.Connect(realtime.NewMemoryBackend()); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	patients := clinic.NewPatientRepo(client, "test", logger)
	settings := clinic.NewSettingsRepo(client, "test", logger)
	feed := queue.NewLiveFeed(patients, settings, logger)
	svc := queue.NewService(patients, settings, feed, client, logger)
	t.Cleanup(svc.Close)

	local := blobstore.NewInMemoryBlobStore(bannerPrefix)
	return &testEnv{
		svc:    svc,
		h:      NewHandler(svc, local, "Test Clinic", logger),
		local:  local,
		client: client,
	}
}

func multipartBody(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func uploadContext(t *testing.T, sid, filename, contentType string, content []byte) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/banners", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(session.ContextKey, sid)
	return c, rec
}

func removeContext(sid, index string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("index")
	c.SetParamValues(index)
	c.Set(session.ContextKey, sid)
	return c, rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func lastToast(ws *queue.Workspace) string {
	toasts := ws.Toasts()
	if len(toasts) == 0 {
		return ""
	}
	return toasts[len(toasts)-1].Message
}

func TestUploadBanner(t *testing.T) {
	env := newTestEnv(t, true)
	ws := env.svc.OpenSession()

	c, rec := uploadContext(t, ws.ID(), "banner.png", "image/png", []byte("png"))
	if err := env.h.UploadBanner(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp bannerResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.Ref, bannerPrefix) {
		t.Errorf("unexpected ref %q", resp.Ref)
	}

	st := ws.State()
	if !st.Unsaved || len(st.DraftSettings.BannerImages) != 1 || st.DraftSettings.BannerImages[0] != resp.Ref {
		t.Errorf("expected ref appended to draft, got %+v", st.DraftSettings.BannerImages)
	}
	if lastToast(ws) != queue.MsgBannerUploaded {
		t.Errorf("expected upload toast, got %q", lastToast(ws))
	}
}

func TestUploadBanner_Rejections(t *testing.T) {
	env := newTestEnv(t, true)
	ws := env.svc.OpenSession()

	c, _ := uploadContext(t, ws.ID(), "doc.pdf", "application/pdf", []byte("pdf"))
	expectHTTPError(t, env.h.UploadBanner(c), http.StatusBadRequest)
	if lastToast(ws) != queue.MsgBannerNotImage {
		t.Errorf("expected not-image toast, got %q", lastToast(ws))
	}

	big := bytes.Repeat([]byte("x"), blobstore.MaxFileSize+1)
	c, _ = uploadContext(t, ws.ID(), "big.png", "image/png", big)
	expectHTTPError(t, env.h.UploadBanner(c), http.StatusRequestEntityTooLarge)
	if lastToast(ws) != queue.MsgBannerTooLarge {
		t.Errorf("expected too-large toast, got %q", lastToast(ws))
	}

	items, _ := env.local.List(context.Background())
	if len(items) != 0 {
		t.Errorf("expected nothing stored, got %d", len(items))
	}
	if ws.Unsaved() {
		t.Error("expected draft untouched")
	}
}

func TestUploadBanner_NotConfigured(t *testing.T) {
	env := newTestEnv(t, false)
	ws := env.svc.OpenSession()

	c, _ := uploadContext(t, ws.ID(), "banner.png", "image/png", []byte("png"))
	expectHTTPError(t, env.h.UploadBanner(c), http.StatusServiceUnavailable)

	items, _ := env.local.List(context.Background())
	if len(items) != 0 {
		t.Errorf("expected nothing stored, got %d", len(items))
	}
	if lastToast(ws) != queue.MsgSetupSettings {
		t.Errorf("expected setup toast, got %q", lastToast(ws))
	}
}

func TestRemoveBanner_DraftAndOrphan(t *testing.T) {
	env := newTestEnv(t, true)
	ws := env.svc.OpenSession()
	ctx := context.Background()

	c, rec := uploadContext(t, ws.ID(), "banner.png", "image/png", []byte("png"))
	if err := env.h.UploadBanner(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	var uploaded bannerResponse
	json.Unmarshal(rec.Body.Bytes(), &uploaded)

	// an upload no settings document references
	orphan, err := env.local.Upload(ctx, blobstore.BlobMetadata{FileName: "old.png", ContentType: "image/png"}, strings.NewReader("old"))
	if err != nil {
		t.Fatalf("orphan upload: %v", err)
	}

	view, err := env.h.Admin(ctx, ws.ID())
	if err != nil {
		t.Fatalf("admin board: %v", err)
	}
	if len(view.Banners) != 2 || view.Banners[1] != env.local.Ref(*orphan) {
		t.Fatalf("expected draft banner then orphan, got %v", view.Banners)
	}

	c, rec = removeContext(ws.ID(), "1")
	if err := env.h.RemoveBanner(c); err != nil {
		t.Fatalf("remove orphan: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, _, err := env.local.Download(ctx, orphan.ID); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected orphan released, got %v", err)
	}

	c, _ = removeContext(ws.ID(), "0")
	if err := env.h.RemoveBanner(c); err != nil {
		t.Fatalf("remove draft banner: %v", err)
	}
	if n := len(ws.State().DraftSettings.BannerImages); n != 0 {
		t.Errorf("expected draft banner removed, got %d", n)
	}
	if items, _ := env.local.List(ctx); len(items) != 0 {
		t.Errorf("expected stored image released, got %d", len(items))
	}
	if lastToast(ws) != queue.MsgBannerRemoved {
		t.Errorf("expected removal toast, got %q", lastToast(ws))
	}

	c, _ = removeContext(ws.ID(), "0")
	expectHTTPError(t, env.h.RemoveBanner(c), http.StatusBadRequest)
	c, _ = removeContext(ws.ID(), "x")
	expectHTTPError(t, env.h.RemoveBanner(c), http.StatusBadRequest)
}

func TestRemoveBanner_ForeignReferenceStillRemoved(t *testing.T) {
	env := newTestEnv(t, true)
	ws := env.svc.OpenSession()
	if err := env.svc.AddBanner(ws.ID(), "https://elsewhere.example.com/x.png"); err != nil {
		t.Fatalf("add banner: %v", err)
	}

	c, _ := removeContext(ws.ID(), "0")
	if err := env.h.RemoveBanner(c); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n := len(ws.State().DraftSettings.BannerImages); n != 0 {
		t.Errorf("expected reference removed from draft, got %d", n)
	}
}

func TestBannerEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	meta, _ := env.local.Upload(context.Background(), blobstore.BlobMetadata{FileName: "a.gif", ContentType: "image/gif"}, strings.NewReader("GIF89a"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(meta.ID)
	if err := env.h.Banner(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "GIF89a" || rec.Header().Get(echo.HeaderContentType) != "image/gif" {
		t.Errorf("unexpected response %q %q", rec.Body.String(), rec.Header().Get(echo.HeaderContentType))
	}

	c = echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	expectHTTPError(t, env.h.Banner(c), http.StatusNotFound)
}

func TestPublicBoardEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/display", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	if err := env.h.PublicBoard(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view PublicView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ClinicName != "Test Clinic" || len(view.Rooms) != 2 {
		t.Errorf("unexpected view %+v", view)
	}
	if view.Rooms[0].Name != "1진료실" {
		t.Errorf("expected default room names before any data, got %q", view.Rooms[0].Name)
	}
}

func TestAdminBoardEndpoint_UnknownSession(t *testing.T) {
	env := newTestEnv(t, true)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	c.Set(session.ContextKey, "nope")
	expectHTTPError(t, env.h.AdminBoard(c), http.StatusUnauthorized)
}

type recordedEvent struct {
	topic, typ string
	data       []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic, eventType string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, typ: eventType, data: data})
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.topic == topic {
			n++
		}
	}
	return n
}

type recordingSignage struct {
	payloads [][]byte
}

func (s *recordingSignage) Publish(_ context.Context, payload []byte) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

func TestBroadcaster(t *testing.T) {
	env := newTestEnv(t, true)
	pub := &recordingPublisher{}
	signage := &recordingSignage{}
	b := NewBroadcaster(env.h, pub, signage, zerolog.Nop())
	env.svc.SetNotifier(b)

	b.BoardChanged("")
	b.BoardChanged("")
	if pub.count("display") != 1 || len(signage.payloads) != 1 {
		t.Errorf("expected one public push for an unchanged board, got %d/%d", pub.count("display"), len(signage.payloads))
	}

	ws := env.svc.OpenSession()
	if err := env.svc.AddNotice(ws.ID(), "hello"); err != nil {
		t.Fatalf("add notice: %v", err)
	}
	b.BoardChanged(ws.ID())
	if pub.count("admin/"+ws.ID()) == 0 {
		t.Error("expected admin board push")
	}

	env.svc.Notify(ws.ID(), "hi", queue.ToastInfo)
	found := false
	for _, e := range pub.events {
		if e.typ == EventToast && strings.Contains(string(e.data), "hi") {
			found = true
		}
	}
	if !found {
		t.Error("expected toast event")
	}

	typ, data, ok := b.Snapshot("display")
	if !ok || typ != EventPublicBoard || len(data) == 0 {
		t.Errorf("expected public snapshot, got %s %v", typ, ok)
	}
	if _, _, ok := b.Snapshot("admin/unknown"); ok {
		t.Error("expected no snapshot for unknown session")
	}
	if _, _, ok := b.Snapshot("elsewhere"); ok {
		t.Error("expected no snapshot for unknown topic")
	}
}
