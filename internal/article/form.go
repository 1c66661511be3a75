package article

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is where a form's latest publish attempt stands.
type Stage string

const (
	StageIdle          Stage = "Idle"
	StageValidating    Stage = "Validating"
	StageUploading     Stage = "Uploading"
	StageUploadFailed  Stage = "UploadFailed"
	StageUploaded      Stage = "Uploaded"
	StageResolvingURL  Stage = "ResolvingURL"
	StageResolveFailed Stage = "ResolveFailed"
	StagePersisting    Stage = "Persisting"
	StagePersistFailed Stage = "PersistFailed"
	StagePersisted     Stage = "Persisted"
)

// Terminal reports whether no further transition follows s within an attempt.
func (s Stage) Terminal() bool {
	switch s {
	case StageUploadFailed, StageResolveFailed, StagePersistFailed, StagePersisted:
		return true
	}
	return false
}

// Form field names accepted by SetField.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
)

// Form holds the editable state of one create-article form.
type Form struct {
	id        string
	createdAt time.Time

	mu          sync.RWMutex
	title       string
	description string
	image       *Image
	progress    int
	stage       Stage
	inFlight    bool
	published   *Record
}

// NewForm creates an empty form stamped with createdAt.
func NewForm(createdAt time.Time) *Form {
	return &Form{
		id:        uuid.NewString(),
		createdAt: createdAt,
		stage:     StageIdle,
	}
}

// ID returns the form identifier.
func (f *Form) ID() string { return f.id }

// CreatedAt returns the construction timestamp.
func (f *Form) CreatedAt() time.Time { return f.createdAt }

func (f *Form) Title() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.title
}

func (f *Form) Description() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.description
}

func (f *Form) Image() *Image {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.image
}

// Progress returns the upload percentage, 0 when nothing is uploading.
func (f *Form) Progress() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.progress
}

func (f *Form) Stage() Stage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stage
}

// SetTitle replaces the title only.
func (f *Form) SetTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
}

// SetDescription replaces the description only.
func (f *Form) SetDescription(description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.description = description
}

// SetField replaces one text field by name.
func (f *Form) SetField(name, value string) error {
	switch name {
	case FieldTitle:
		f.SetTitle(value)
	case FieldDescription:
		f.SetDescription(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// SetImage replaces the pending image; nil clears it.
func (f *Form) SetImage(img *Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = img
}

// Reset clears title, description and image. createdAt, progress and stage
// belong to the publish workflow and are left alone.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = ""
	f.description = ""
	f.image = nil
}

// Snapshot is a point-in-time copy of the form for rendering.
type Snapshot struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageName   string    `json:"image,omitempty"`
	Progress    int       `json:"progress"`
	Stage       Stage     `json:"stage"`
	Publishing  bool      `json:"publishing"`
	CreatedAt   time.Time `json:"createdAt"`
	Published   *Record   `json:"published,omitempty"`
}

// Snapshot copies the current state under one lock.
func (f *Form) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := Snapshot{
		ID:          f.id,
		Title:       f.title,
		Description: f.description,
		Progress:    f.progress,
		Stage:       f.stage,
		Publishing:  f.inFlight,
		CreatedAt:   f.createdAt,
	}
	if f.image != nil {
		s.ImageName = f.image.Name
	}
	if f.published != nil {
		rec := *f.published
		s.Published = &rec
	}
	return s
}

// fields is what a publish attempt captures before it starts uploading.
type fields struct {
	title       string
	description string
	image       *Image
}

func (f *Form) capture() fields {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return fields{title: f.title, description: f.description, image: f.image}
}

// begin marks an attempt in flight; false means one already is.
func (f *Form) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return false
	}
	f.inFlight = true
	return true
}

func (f *Form) publishing() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.inFlight
}

func (f *Form) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
}

func (f *Form) setProgress(p int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = p
}

// setStage returns the previous stage.
func (f *Form) setStage(s Stage) Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.stage
	f.stage = s
	return prev
}

func (f *Form) setPublished(rec *Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = rec
}

// RegistryLimits bounds how many forms a Registry holds and for how long.
type RegistryLimits struct {
	// IdleTTL evicts forms nobody has looked up for this long; 0 keeps them.
	IdleTTL time.Duration
	// MaxForms caps the number of forms; 0 means no cap.
	MaxForms int
}

type registryEntry struct {
	form     *Form
	lastUsed time.Time
}

// Registry keeps the forms currently being edited.
type Registry struct {
	mu     sync.Mutex
	forms  map[string]*registryEntry
	now    func() time.Time
	limits RegistryLimits
}

// NewRegistry creates an empty registry; now stamps new forms and measures
// idle time.
func NewRegistry(now func() time.Time, limits RegistryLimits) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{forms: make(map[string]*registryEntry), now: now, limits: limits}
}

// Create adds a new empty form. A full registry first drops idle forms and
// returns ErrTooManyForms if that frees nothing.
func (r *Registry) Create() (*Form, error) {
	at := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limits.MaxForms > 0 && len(r.forms) >= r.limits.MaxForms {
		r.sweep(at)
		if len(r.forms) >= r.limits.MaxForms {
			return nil, ErrTooManyForms
		}
	}
	f := NewForm(at)
	r.forms[f.id] = &registryEntry{form: f, lastUsed: at}
	return f, nil
}

// Get returns the form with id or ErrFormNotFound, and restarts its idle time.
func (r *Registry) Get(id string) (*Form, error) {
	at := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[id]
	if !ok {
		return nil, ErrFormNotFound
	}
	e.lastUsed = at
	return e.form, nil
}

// Delete drops the form with id. A running attempt still completes.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forms[id]; !ok {
		return ErrFormNotFound
	}
	delete(r.forms, id)
	return nil
}

// Len returns the number of registered forms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// Sweep drops forms idle for IdleTTL or longer and reports how many went.
// A form with a publish attempt in flight stays, and its idle time restarts.
func (r *Registry) Sweep() int {
	at := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweep(at)
}

func (r *Registry) sweep(at time.Time) int {
	if r.limits.IdleTTL <= 0 {
		return 0
	}
	n := 0
	for id, e := range r.forms {
		if e.form.publishing() {
			e.lastUsed = at
			continue
		}
		if at.Sub(e.lastUsed) >= r.limits.IdleTTL {
			delete(r.forms, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done. Without an IdleTTL it returns
// at once.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.limits.IdleTTL <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
