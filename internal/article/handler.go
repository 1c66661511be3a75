package article

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/events"
	"github.com/quillpress/articles/internal/notify"
	"github.com/quillpress/articles/internal/response"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// maxFieldsBody caps the JSON body of a field update.
const maxFieldsBody = 1 << 20

// HandlerConfig holds the HTTP-only settings of a Handler.
type HandlerConfig struct {
	// MaxImageSize caps the image upload body; 0 means no limit.
	MaxImageSize int64
	// APIBase is where APIRoutes is mounted, used by the HTML page.
	APIBase string
}

// Handler holds HTTP handlers for the create-article form.
type Handler struct {
	forms        *Registry
	pub          *Publisher
	bus          events.Bus
	logger       *zap.Logger
	maxImageSize int64
	apiBase      string
}

// NewHandler creates a new article Handler.
func NewHandler(forms *Registry, pub *Publisher, bus events.Bus, logger *zap.Logger, cfg HandlerConfig) *Handler {
	if cfg.APIBase == "" {
		cfg.APIBase = "/api/v1"
	}
	return &Handler{
		forms:        forms,
		pub:          pub,
		bus:          bus,
		logger:       logger,
		maxImageSize: cfg.MaxImageSize,
		apiBase:      cfg.APIBase,
	}
}

// APIRoutes mounts the JSON form API.
func (h *Handler) APIRoutes(r chi.Router) {
	r.Post("/", h.CreateForm)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetForm)
		r.Patch("/", h.UpdateFields)
		r.Delete("/", h.DeleteForm)
		r.Put("/image", h.SetImage)
		r.Post("/publish", h.Publish)
		r.Get("/events", h.Events)
	})
}

// ViewRoutes mounts the HTML pages.
func (h *Handler) ViewRoutes(r chi.Router) {
	r.Get("/new", h.NewFormPage)
	r.Get("/{id}", h.FormPage)
}

func (h *Handler) form(w http.ResponseWriter, r *http.Request) (*Form, bool) {
	f, err := h.forms.Get(chi.URLParam(r, "id"))
	if err != nil {
		response.NotFound(w, "form not found")
		return nil, false
	}
	return f, true
}

// CreateForm godoc
//
//	@Summary		Create form
//	@Description	Start a new empty create-article form. createdAt is fixed at this moment.
//	@Tags			forms
//	@Produce		json
//	@Security		BearerAuth
//	@Success		201	{object}	response.Envelope{data=Snapshot}
//	@Failure		503	{object}	response.Envelope
//	@Router			/forms [post]
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	f, err := h.forms.Create()
	if err != nil {
		h.formsFull(w, err)
		return
	}
	response.Created(w, f.Snapshot())
}

func (h *Handler) formsFull(w http.ResponseWriter, err error) {
	h.logger.Warn("form not created", zap.Int("forms", h.forms.Len()), zap.Error(err))
	response.Error(w, http.StatusServiceUnavailable, "too many open forms, try again later")
}

// GetForm godoc
//
//	@Summary		Get form
//	@Description	Current field values, pending image name, upload progress and publish stage.
//	@Tags			forms
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Form ID"
//	@Success		200	{object}	response.Envelope{data=Snapshot}
//	@Failure		404	{object}	response.Envelope
//	@Router			/forms/{id} [get]
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}
	response.OK(w, f.Snapshot())
}

// UpdateFields godoc
//
//	@Summary		Update text fields
//	@Description	Replace only the fields present in the body; the others keep their values.
//	@Tags			forms
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Form ID"
//	@Param			request	body		map[string]string	true	"title and/or description"
//	@Success		200		{object}	response.Envelope{data=Snapshot}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Router			/forms/{id} [patch]
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFieldsBody)
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "request body too large")
			return
		}
		response.BadRequest(w, "invalid request body")
		return
	}
	for name := range req {
		if name != FieldTitle && name != FieldDescription {
			response.BadRequest(w, "unknown field: "+name)
			return
		}
	}
	for name, value := range req {
		_ = f.SetField(name, value)
	}

	response.OK(w, f.Snapshot())
}

// SetImage godoc
//
//	@Summary		Select image
//	@Description	Replace the pending image with the uploaded multipart file field "image". The file is held until publish.
//	@Tags			forms
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string	true	"Form ID"
//	@Param			image	formData	file	true	"Image file (image/*)"
//	@Success		200		{object}	response.Envelope{data=Snapshot}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Router			/forms/{id}/image [put]
func (h *Handler) SetImage(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}

	if h.maxImageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "image too large")
			return
		}
		response.BadRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		response.BadRequest(w, "image file is required")
		return
	}
	defer file.Close()

	if h.maxImageSize > 0 && header.Size > h.maxImageSize {
		response.TooLarge(w, "image too large")
		return
	}

	// Multipart temp files are removed when the request ends; publish runs later.
	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "could not read image")
		return
	}
	f.SetImage(ImageFromBytes(header.Filename, header.Header.Get("Content-Type"), data))

	response.OK(w, f.Snapshot())
}

// DeleteForm godoc
//
//	@Summary		Discard form
//	@Tags			forms
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Form ID"
//	@Success		204
//	@Failure		404	{object}	response.Envelope
//	@Router			/forms/{id} [delete]
func (h *Handler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := h.forms.Delete(chi.URLParam(r, "id")); err != nil {
		response.NotFound(w, "form not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publishData struct {
	AttemptID string `json:"attemptId" example:"5b0f3c1e-7c43-4a8e-9d51-0a3c3f1f9b2a"`
	FormID    string `json:"formId"    example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
	Key       string `json:"key"       example:"images/1700000000000cat.png"`
}

// Publish godoc
//
//	@Summary		Publish article
//	@Description	Validate the form, then upload the image and store the article in the background. Follow progress on /forms/{id}/events or by polling the form. A missing field returns 400 with an "alert" message.
//	@Tags			forms
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Form ID"
//	@Success		202	{object}	response.Envelope{data=publishData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		409	{object}	response.Envelope
//	@Router			/forms/{id}/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}

	alert := notify.AlertFunc(func(message string) { response.Alert(w, message) })
	// The attempt outlives this request.
	a, err := h.pub.Start(context.WithoutCancel(r.Context()), f, WithAlerter(alert))
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			// already answered by the alert
		case errors.Is(err, ErrPublishInFlight):
			response.Conflict(w, "publish already in progress")
		default:
			h.logger.Error("publish start failed", zap.String("form_id", f.ID()), zap.Error(err))
			response.InternalError(w)
		}
		return
	}

	response.Accepted(w, publishData{AttemptID: a.ID, FormID: a.FormID, Key: a.Key})
}

// Events godoc
//
//	@Summary		Form event stream
//	@Description	WebSocket stream of {topic,type,data} events: type "progress" ({progress}), "stage" ({stage}) and "toast" ({level,message}).
//	@Tags			forms
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Form ID"
//	@Success		101
//	@Failure		404	{object}	response.Envelope
//	@Router			/forms/{id}/events [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}
	events.ServeWS(h.bus, f.ID(), h.logger)(w, r)
}
