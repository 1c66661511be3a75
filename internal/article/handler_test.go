package article

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/events"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Alert   string          `json:"alert"`
}

type apiFixture struct {
	*harness
	forms  *Registry
	router http.Handler
}

func newAPIFixture(t *testing.T, cfg HandlerConfig) *apiFixture {
	t.Helper()
	return newLimitedAPIFixture(t, cfg, RegistryLimits{})
}

func newLimitedAPIFixture(t *testing.T, cfg HandlerConfig, limits RegistryLimits) *apiFixture {
	t.Helper()
	h := newHarness(t, nil)
	forms := NewRegistry(func() time.Time { return epoch }, limits)
	handler := NewHandler(forms, h.pub, h.bus, zap.NewNop(), cfg)

	r := chi.NewRouter()
	r.Route("/api/v1/forms", handler.APIRoutes)
	r.Route("/forms", handler.ViewRoutes)
	return &apiFixture{harness: h, forms: forms, router: r}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	var env apiEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, env
}

func (fx *apiFixture) create(t *testing.T) Snapshot {
	t.Helper()
	rec, env := fx.do(t, http.MethodPost, "/api/v1/forms", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var s Snapshot
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatal(err)
	}
	return s
}

func (fx *apiFixture) patch(t *testing.T, id string, fields map[string]string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	body, _ := json.Marshal(fields)
	return fx.do(t, http.MethodPatch, "/api/v1/forms/"+id, bytes.NewBuffer(body), "application/json")
}

func (fx *apiFixture) putImage(t *testing.T, id, name string, data []byte) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return fx.do(t, http.MethodPut, "/api/v1/forms/"+id+"/image", &body, mw.FormDataContentType())
}

func (fx *apiFixture) waitStage(t *testing.T, id string, want Stage) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := fx.forms.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		s := f.Snapshot()
		if s.Stage == want && !s.Publishing {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("stage = %s, want %s", s.Stage, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerPublishFlow(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{MaxImageSize: 1 << 20})
	form := fx.create(t)
	if !form.CreatedAt.Equal(epoch) || form.Stage != StageIdle {
		t.Fatalf("new form = %+v", form)
	}

	if rec, _ := fx.patch(t, form.ID, map[string]string{"title": "Hello"}); rec.Code != http.StatusOK {
		t.Fatalf("patch title status = %d", rec.Code)
	}
	rec, env := fx.patch(t, form.ID, map[string]string{"description": "World"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch description status = %d", rec.Code)
	}
	var s Snapshot
	json.Unmarshal(env.Data, &s)
	if s.Title != "Hello" || s.Description != "World" {
		t.Fatalf("fields not merged: %+v", s)
	}

	rec, env = fx.putImage(t, form.ID, "cat.png", bytes.Repeat([]byte("x"), 2048))
	if rec.Code != http.StatusOK {
		t.Fatalf("image status = %d: %s", rec.Code, env.Error)
	}
	json.Unmarshal(env.Data, &s)
	if s.ImageName != "cat.png" {
		t.Fatalf("image name = %q", s.ImageName)
	}

	rec, env = fx.do(t, http.MethodPost, "/api/v1/forms/"+form.ID+"/publish", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish status = %d: %s", rec.Code, env.Error)
	}
	var started publishData
	json.Unmarshal(env.Data, &started)
	if started.FormID != form.ID || !strings.HasSuffix(started.Key, "cat.png") || started.AttemptID == "" {
		t.Errorf("publish data = %+v", started)
	}

	done := fx.waitStage(t, form.ID, StagePersisted)
	if done.Progress != 0 || done.Title != "" || done.Published == nil {
		t.Errorf("final state = %+v", done)
	}
	records := fx.repo.all()
	if len(records) != 1 || !strings.HasSuffix(records[0].ImageURL, started.Key) {
		t.Errorf("records = %+v", records)
	}
}

func TestHandlerPublishIncompleteAlerts(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})
	form := fx.create(t)
	fx.patch(t, form.ID, map[string]string{"description": "World"})

	rec, env := fx.do(t, http.MethodPost, "/api/v1/forms/"+form.ID+"/publish", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Alert != MsgFillAllFields {
		t.Errorf("alert = %q", env.Alert)
	}
	if fx.store.callCount() != 0 {
		t.Errorf("storage calls = %d", fx.store.callCount())
	}
	if len(fx.alerts.all()) != 0 {
		t.Error("default alerter used instead of the response")
	}
}

func TestHandlerPublishInFlight(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})
	fx.store.gate = make(chan struct{})
	form := fx.create(t)
	fx.patch(t, form.ID, map[string]string{"title": "Hello", "description": "World"})
	fx.putImage(t, form.ID, "cat.png", []byte("img"))

	if rec, _ := fx.do(t, http.MethodPost, "/api/v1/forms/"+form.ID+"/publish", nil, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("first publish status = %d", rec.Code)
	}
	if rec, _ := fx.do(t, http.MethodPost, "/api/v1/forms/"+form.ID+"/publish", nil, ""); rec.Code != http.StatusConflict {
		t.Fatalf("second publish status = %d, want 409", rec.Code)
	}

	close(fx.store.gate)
	fx.waitStage(t, form.ID, StagePersisted)
}

func TestHandlerErrors(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{MaxImageSize: 16})
	form := fx.create(t)

	tests := []struct {
		name string
		do   func() *httptest.ResponseRecorder
		want int
	}{
		{"unknown form", func() *httptest.ResponseRecorder {
			rec, _ := fx.do(t, http.MethodGet, "/api/v1/forms/nope", nil, "")
			return rec
		}, http.StatusNotFound},
		{"unknown field", func() *httptest.ResponseRecorder {
			rec, _ := fx.patch(t, form.ID, map[string]string{"createdAt": "x"})
			return rec
		}, http.StatusBadRequest},
		{"bad json", func() *httptest.ResponseRecorder {
			rec, _ := fx.do(t, http.MethodPatch, "/api/v1/forms/"+form.ID, bytes.NewBufferString("{"), "application/json")
			return rec
		}, http.StatusBadRequest},
		{"fields body too large", func() *httptest.ResponseRecorder {
			body := `{"title":"` + strings.Repeat("x", maxFieldsBody) + `"}`
			rec, _ := fx.do(t, http.MethodPatch, "/api/v1/forms/"+form.ID, bytes.NewBufferString(body), "application/json")
			return rec
		}, http.StatusRequestEntityTooLarge},
		{"image too large", func() *httptest.ResponseRecorder {
			rec, _ := fx.putImage(t, form.ID, "big.png", bytes.Repeat([]byte("x"), 64))
			return rec
		}, http.StatusRequestEntityTooLarge},
		{"missing image part", func() *httptest.ResponseRecorder {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			mw.WriteField("title", "x")
			mw.Close()
			rec, _ := fx.do(t, http.MethodPut, "/api/v1/forms/"+form.ID+"/image", &body, mw.FormDataContentType())
			return rec
		}, http.StatusBadRequest},
		{"publish unknown form", func() *httptest.ResponseRecorder {
			rec, _ := fx.do(t, http.MethodPost, "/api/v1/forms/nope/publish", nil, "")
			return rec
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := tt.do(); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// A failed patch leaves the other fields alone.
	if f, _ := fx.forms.Get(form.ID); f.Title() != "" {
		t.Errorf("title = %q", f.Title())
	}
}

func TestHandlerFormsFull(t *testing.T) {
	fx := newLimitedAPIFixture(t, HandlerConfig{}, RegistryLimits{IdleTTL: time.Hour, MaxForms: 2})
	fx.create(t)
	fx.create(t)

	rec, env := fx.do(t, http.MethodPost, "/api/v1/forms", nil, "")
	if rec.Code != http.StatusServiceUnavailable || env.Error == "" {
		t.Fatalf("create status = %d, body = %+v", rec.Code, env)
	}
	if rec, _ := fx.do(t, http.MethodGet, "/forms/new", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("new page status = %d", rec.Code)
	}
	if fx.forms.Len() != 2 {
		t.Errorf("Len = %d", fx.forms.Len())
	}
}

func TestHandlerDeleteForm(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})
	form := fx.create(t)

	if rec, _ := fx.do(t, http.MethodDelete, "/api/v1/forms/"+form.ID, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec, _ := fx.do(t, http.MethodGet, "/api/v1/forms/"+form.ID, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestFormPage(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})

	rec, _ := fx.do(t, http.MethodGet, "/forms/new", nil, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("new status = %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	id := loc[strings.LastIndex(loc, "/")+1:]
	f, err := fx.forms.Get(id)
	if err != nil {
		t.Fatalf("redirect to %q: %v", loc, err)
	}
	f.SetTitle("Hello <world>")

	rec, _ = fx.do(t, http.MethodGet, "/forms/"+id, nil, "")
	page := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("page status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	for _, want := range []string{`accept="image/*"`, `id="progress" hidden`, "Hello &lt;world&gt;", `data-api="/api/v1"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}

	f.setProgress(42)
	rec, _ = fx.do(t, http.MethodGet, "/forms/"+id, nil, "")
	page = rec.Body.String()
	if strings.Contains(page, `id="progress" hidden`) {
		t.Error("progress hidden while uploading")
	}
	if !strings.Contains(page, "uploading image 42%") {
		t.Error("progress text missing")
	}
}

func TestProgressText(t *testing.T) {
	if got := ProgressText(7); got != "uploading image 7%" {
		t.Errorf("ProgressText = %q", got)
	}
}

func TestHandlerEventsStream(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})
	form := fx.create(t)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/forms/" + form.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ev, _ := events.New(form.ID, events.TypeProgress, progressEvent{Progress: 50})
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	got := make(chan events.Event, 1)
	go func() {
		var e events.Event
		if conn.ReadJSON(&e) == nil {
			got <- e
		}
	}()
	for {
		_ = fx.bus.Publish(context.Background(), ev)
		select {
		case e := <-got:
			if e.Type != events.TypeProgress || string(e.Data) != `{"progress":50}` {
				t.Fatalf("event = %+v", e)
			}
			return
		case <-time.After(20 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no event received")
			}
		}
	}
}

func TestHandlerEventsUnknownForm(t *testing.T) {
	fx := newAPIFixture(t, HandlerConfig{})
	rec, _ := fx.do(t, http.MethodGet, "/api/v1/forms/nope/events", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
