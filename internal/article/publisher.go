package article

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/events"
	"github.com/quillpress/articles/internal/notify"
	"github.com/quillpress/articles/internal/storage"
)

const tracerName = "github.com/quillpress/articles/internal/article"

// UploadErrorPolicy decides who hears about a failed upload.
type UploadErrorPolicy string

const (
	// UploadErrorLog only logs the failure.
	UploadErrorLog UploadErrorPolicy = "log"
	// UploadErrorNotify logs it and shows an error toast.
	UploadErrorNotify UploadErrorPolicy = "notify"
)

// Options configures a Publisher.
type Options struct {
	Storage    storage.Storage
	Repository Repository
	Notifier   notify.Notifier
	Alerter    notify.Alerter // default alerter; Start can override per call
	Bus        events.Bus     // optional; receives progress and stage events
	Logger     *zap.Logger
	Metrics    *Metrics

	ImagePrefix       string
	UploadErrorPolicy UploadErrorPolicy
	// CleanupOrphans deletes the uploaded object when the record insert fails.
	CleanupOrphans bool

	Now func() time.Time
}

// Publisher runs the publish workflow for forms.
type Publisher struct {
	storage  storage.Storage
	repo     Repository
	notifier notify.Notifier
	alerter  notify.Alerter
	bus      events.Bus
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	prefix         string
	policy         UploadErrorPolicy
	cleanupOrphans bool
	now            func() time.Time
}

// NewPublisher creates a Publisher from opts.
func NewPublisher(opts Options) *Publisher {
	p := &Publisher{
		storage:        opts.Storage,
		repo:           opts.Repository,
		notifier:       opts.Notifier,
		alerter:        opts.Alerter,
		bus:            opts.Bus,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		tracer:         otel.Tracer(tracerName),
		prefix:         opts.ImagePrefix,
		policy:         opts.UploadErrorPolicy,
		cleanupOrphans: opts.CleanupOrphans,
		now:            opts.Now,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.alerter == nil {
		p.alerter = notify.AlertFunc(func(string) {})
	}
	if p.prefix == "" {
		p.prefix = "images"
	}
	if p.policy == "" {
		p.policy = UploadErrorLog
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Attempt is one running publish.
type Attempt struct {
	ID     string
	FormID string
	Key    string

	done   chan struct{}
	record *Record
	err    error
}

// Done is closed when the attempt reaches a terminal stage.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the outcome; valid after Done is closed.
func (a *Attempt) Result() (*Record, error) { return a.record, a.err }

// Wait blocks until the attempt finishes or ctx is done. Giving up on the wait
// does not stop the attempt.
func (a *Attempt) Wait(ctx context.Context) (*Record, error) {
	select {
	case <-a.done:
		return a.record, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartOption adjusts a single Start call.
type StartOption func(*startConfig)

type startConfig struct {
	alerter notify.Alerter
}

// WithAlerter shows this attempt's validation alert through a instead of the
// publisher's default.
func WithAlerter(a notify.Alerter) StartOption {
	return func(c *startConfig) { c.alerter = a }
}

// Start validates f and, when it is complete, uploads and persists it in the
// background. Validation failures alert once, return *ValidationError and
// touch nothing. ctx governs the whole attempt; pass a context that outlives
// the caller when the caller returns before the attempt ends.
func (p *Publisher) Start(ctx context.Context, f *Form, opts ...StartOption) (*Attempt, error) {
	cfg := startConfig{alerter: p.alerter}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !f.begin() {
		p.metrics.outcome(OutcomeInFlight)
		return nil, ErrPublishInFlight
	}

	prev := f.setStage(StageValidating)
	in := f.capture()
	if err := validate(in); err != nil {
		f.setStage(prev)
		f.end()
		p.metrics.outcome(OutcomeInvalid)
		cfg.alerter.Alert(MsgFillAllFields)
		return nil, err
	}

	a := &Attempt{
		ID:     uuid.NewString(),
		FormID: f.ID(),
		Key:    p.objectKey(in.image.Name),
		done:   make(chan struct{}),
	}
	p.setStage(ctx, f, StageUploading)

	go p.run(ctx, f, a, in)
	return a, nil
}

// Publish is Start followed by Wait.
func (p *Publisher) Publish(ctx context.Context, f *Form, opts ...StartOption) (*Record, error) {
	a, err := p.Start(ctx, f, opts...)
	if err != nil {
		return nil, err
	}
	return a.Wait(ctx)
}

func validate(in fields) error {
	var missing []string
	if in.title == "" {
		missing = append(missing, FieldTitle)
	}
	if in.description == "" {
		missing = append(missing, FieldDescription)
	}
	if in.image == nil {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// objectKey names the upload "<prefix>/<unix millis><original name>".
func (p *Publisher) objectKey(name string) string {
	return fmt.Sprintf("%s/%d%s", p.prefix, p.now().UnixMilli(), name)
}

func (p *Publisher) run(ctx context.Context, f *Form, a *Attempt, in fields) {
	defer close(a.done)
	defer f.end()

	ctx, span := p.tracer.Start(ctx, "article.publish", trace.WithAttributes(
		attribute.String("article.form_id", a.FormID),
		attribute.String("article.attempt_id", a.ID),
		attribute.String("article.object_key", a.Key),
	))
	defer span.End()

	log := p.logger.With(
		zap.String("form_id", a.FormID),
		zap.String("attempt_id", a.ID),
		zap.String("key", a.Key),
	)

	if err := p.upload(ctx, f, a.Key, in.image); err != nil {
		a.err = p.uploadFailed(ctx, f, log, span, StageUploadFailed, a.Key, err)
		return
	}
	p.metrics.uploaded(in.image.Size)
	p.setStage(ctx, f, StageUploaded)
	f.Reset()

	p.setStage(ctx, f, StageResolvingURL)
	imageURL, err := p.resolveURL(ctx, a.Key)
	if err != nil {
		a.err = p.uploadFailed(ctx, f, log, span, StageResolveFailed, a.Key, err)
		return
	}

	p.setStage(ctx, f, StagePersisting)
	rec := &Record{
		Title:       in.title,
		Description: in.description,
		ImageURL:    imageURL,
		CreatedAt:   p.now(),
	}
	if err := p.persist(ctx, rec); err != nil {
		a.err = p.persistFailed(ctx, f, log, span, a.Key, imageURL, err)
		return
	}

	p.notifier.Notify(ctx, a.FormID, notify.Notification{Level: notify.LevelSuccess, Message: MsgArticleAdded})
	p.setProgress(ctx, f, 0)
	f.setPublished(rec)
	p.setStage(ctx, f, StagePersisted)
	p.metrics.outcome(OutcomePersisted)
	log.Info("article published", zap.String("article_id", rec.ID), zap.String("image_url", imageURL))
	a.record = rec
}

func (p *Publisher) upload(ctx context.Context, f *Form, key string, img *Image) error {
	ctx, span := p.tracer.Start(ctx, "article.upload", trace.WithAttributes(
		attribute.Int64("article.image_size", img.Size),
	))
	defer span.End()
	defer p.metrics.observe(StageUploading, time.Now())

	body, err := img.Open()
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer body.Close()

	// Storage serializes progress calls; only changes of the rounded
	// percentage become events.
	last := -1
	return p.storage.Upload(ctx, key, body, img.Size, img.ContentType, func(transferred, total int64) {
		pct := Percent(transferred, total)
		if pct == last {
			return
		}
		last = pct
		p.setProgress(ctx, f, pct)
	})
}

func (p *Publisher) resolveURL(ctx context.Context, key string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "article.resolve_url")
	defer span.End()
	defer p.metrics.observe(StageResolvingURL, time.Now())
	return p.storage.PublicURL(ctx, key)
}

func (p *Publisher) persist(ctx context.Context, rec *Record) error {
	ctx, span := p.tracer.Start(ctx, "article.persist")
	defer span.End()
	defer p.metrics.observe(StagePersisting, time.Now())
	return p.repo.Insert(ctx, rec)
}

// uploadFailed leaves fields and progress as they are; the user hears about
// it only under UploadErrorNotify. The terminal stage is the attempt's last
// event.
func (p *Publisher) uploadFailed(ctx context.Context, f *Form, log *zap.Logger, span trace.Span, stage Stage, key string, err error) error {
	uerr := &UploadError{Stage: stage, Key: key, Err: err}
	span.RecordError(uerr)
	span.SetStatus(codes.Error, string(stage))
	log.Error("image upload failed", zap.String("stage", string(stage)), zap.Error(err))

	if p.policy == UploadErrorNotify {
		p.notifier.Notify(ctx, f.ID(), notify.Notification{Level: notify.LevelError, Message: MsgUploadFailed})
	}
	if stage == StageResolveFailed {
		p.metrics.outcome(OutcomeResolveFailed)
	} else {
		p.metrics.outcome(OutcomeUploadFailed)
	}
	p.setStage(ctx, f, stage)
	return uerr
}

// persistFailed notifies the user and keeps progress at its last value.
func (p *Publisher) persistFailed(ctx context.Context, f *Form, log *zap.Logger, span trace.Span, key, imageURL string, err error) error {
	perr := &PersistError{Key: key, ImageURL: imageURL, Err: err}
	span.RecordError(perr)
	span.SetStatus(codes.Error, string(StagePersistFailed))
	log.Error("article insert failed", zap.Error(err))

	p.notifier.Notify(ctx, f.ID(), notify.Notification{Level: notify.LevelError, Message: MsgArticleFailed})
	p.setStage(ctx, f, StagePersistFailed)
	p.metrics.outcome(OutcomePersistFailed)

	if p.cleanupOrphans {
		if derr := p.storage.Delete(ctx, key); derr != nil {
			log.Warn("orphaned image not removed", zap.Error(derr))
		} else {
			log.Info("orphaned image removed")
		}
	}
	return perr
}

func (p *Publisher) setProgress(ctx context.Context, f *Form, percent int) {
	f.setProgress(percent)
	p.publish(ctx, f.ID(), events.TypeProgress, progressEvent{Progress: percent})
}

func (p *Publisher) setStage(ctx context.Context, f *Form, s Stage) {
	f.setStage(s)
	p.publish(ctx, f.ID(), events.TypeStage, stageEvent{Stage: s})
}

type progressEvent struct {
	Progress int `json:"progress"`
}

type stageEvent struct {
	Stage Stage `json:"stage"`
}

func (p *Publisher) publish(ctx context.Context, formID, typ string, data any) {
	if p.bus == nil {
		return
	}
	ev, err := events.New(formID, typ, data)
	if err == nil {
		err = p.bus.Publish(ctx, ev)
	}
	if err != nil {
		p.logger.Debug("form event dropped", zap.String("form_id", formID), zap.String("type", typ), zap.Error(err))
	}
}

// Percent converts transferred/total bytes to a rounded percentage in [0,100].
// An unknown or zero total reports 0.
func Percent(transferred, total int64) int {
	if total <= 0 || transferred <= 0 {
		return 0
	}
	pct := int(math.Round(float64(transferred) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}
