package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

type ImageInput struct {
	Name string
	Data []byte
}

type EnrollRequest struct {
	OwnerID uuid.UUID
	// BatchID groups requests for duplicate detection. A new id is
	// generated when empty.
	BatchID string
	Images  []ImageInput
	Meta    RequestMeta
}

// RequestMeta carries caller details for audit events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type ImageReport struct {
	Index      int        `json:"index"`
	Name       string     `json:"name,omitempty"`
	Result     Result     `json:"result"`
	Reason     string     `json:"reason,omitempty"`
	ReasonCode string     `json:"reason_code,omitempty"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	Quality    float64    `json:"quality,omitempty"`
}

type BatchReport struct {
	BatchID string        `json:"batch_id"`
	OwnerID uuid.UUID     `json:"owner_id"`
	Items   []ImageReport `json:"items"`
	Tally   Tally         `json:"tally"`
}

// Progress is pushed to the ProgressSink after every image.
type Progress struct {
	BatchID string      `json:"batch_id"`
	OwnerID uuid.UUID   `json:"owner_id"`
	Index   int         `json:"index"`
	Total   int         `json:"total"`
	Item    ImageReport `json:"item"`
	Tally   Tally       `json:"tally"`
}

type EnrollerOption func(*Enroller)

func WithProgressSink(s ProgressSink) EnrollerOption {
	return func(e *Enroller) { e.progress = s }
}

func WithEventPublisher(p EventPublisher) EnrollerOption {
	return func(e *Enroller) { e.events = p }
}

// WithInterImageDelay pauses between consecutive images of a batch.
func WithInterImageDelay(d time.Duration) EnrollerOption {
	return func(e *Enroller) { e.delay = d }
}

// Enroller runs enrollment batches: screen each image through the gate,
// store accepted templates and keep the batch tally.
type Enroller struct {
	gate     *Gate
	store    TemplateStore
	owners   OwnerDirectory
	ledger   BatchLedger
	refs     SourceRefs
	progress ProgressSink
	events   EventPublisher
	delay    time.Duration
}

func NewEnroller(gate *Gate, store TemplateStore, owners OwnerDirectory, ledger BatchLedger, refs SourceRefs, opts ...EnrollerOption) *Enroller {
	e := &Enroller{
		gate:   gate,
		store:  store,
		owners: owners,
		ledger: ledger,
		refs:   refs,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// batchView checks digests accepted earlier in this call before asking the
// ledger, so duplicates within one request are caught even if a ledger
// write failed.
type batchView struct {
	ledger  BatchLedger
	batchID string
	local   map[string]struct{}
}

func (v *batchView) Seen(ctx context.Context, digest string) (bool, error) {
	if _, ok := v.local[digest]; ok {
		return true, nil
	}
	return v.ledger.Seen(ctx, v.batchID, digest)
}

// Enroll screens and stores the images of req in order. Per-image data
// failures are reported in the BatchReport and do not abort the batch.
// The returned error is non-nil when the owner check fails, the batch id
// belongs to another owner, a model is unavailable or ctx is cancelled.
// In the last two cases the report covers the images finished so far.
func (e *Enroller) Enroll(ctx context.Context, req EnrollRequest) (BatchReport, error) {
	exists, err := e.owners.OwnerExists(ctx, req.OwnerID)
	if err != nil {
		return BatchReport{}, fmt.Errorf("check owner: %w", err)
	}
	if !exists {
		return BatchReport{}, ErrOwnerNotFound
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	} else if err := e.claimBatch(ctx, batchID, req.OwnerID); err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{
		BatchID: batchID,
		OwnerID: req.OwnerID,
		Items:   make([]ImageReport, 0, len(req.Images)),
	}
	view := &batchView{ledger: e.ledger, batchID: batchID, local: make(map[string]struct{})}

	for i, in := range req.Images {
		if i > 0 && e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		item, err := e.enrollOne(ctx, req, batchID, view, i, in)
		if err != nil {
			slog.Warn("enrollment batch stopped",
				"owner_id", req.OwnerID, "batch_id", batchID, "index", i, "error", err)
			return report, fmt.Errorf("enroll image %d: %w", i, err)
		}
		report.Items = append(report.Items, item)
		report.Tally.Add(item.Result)

		if e.progress != nil {
			e.progress.EnrollmentProgress(Progress{
				BatchID: batchID,
				OwnerID: req.OwnerID,
				Index:   i,
				Total:   len(req.Images),
				Item:    item,
				Tally:   report.Tally,
			})
		}
	}

	slog.Info("enrollment batch processed",
		"owner_id", req.OwnerID,
		"batch_id", batchID,
		"success", report.Tally.Success,
		"duplicate", report.Tally.Duplicate,
		"error", report.Tally.Error,
	)
	return report, nil
}

// claimBatch fails when batchID already tracks another owner's images.
func (e *Enroller) claimBatch(ctx context.Context, batchID string, ownerID uuid.UUID) error {
	st, err := e.ledger.Status(ctx, batchID)
	if err != nil {
		return fmt.Errorf("check batch: %w", err)
	}
	if st != nil && st.OwnerID != ownerID {
		return ErrBatchOwnerMismatch
	}
	return nil
}

// enrollOne screens and stores a single image. An error is returned only
// when a model is unavailable; the image is then neither reported nor
// recorded so the caller can resubmit it.
func (e *Enroller) enrollOne(ctx context.Context, req EnrollRequest, batchID string, view *batchView, index int, in ImageInput) (ImageReport, error) {
	item := ImageReport{Index: index, Name: in.Name}

	o := e.gate.Screen(ctx, view, in.Data)
	if o.Reason == ReasonModelUnavailable {
		observability.EnrollmentOutcomes.WithLabelValues(string(ResultError), o.Reason.Code()).Inc()
		return item, o.Err
	}
	item.Quality = o.Quality

	if o.Accepted {
		tpl, err := e.persist(ctx, req.OwnerID, in.Data, o)
		if err != nil {
			slog.Error("store face template", "owner_id", req.OwnerID, "batch_id", batchID, "error", err)
			o = reject(o, ReasonProcessingFailed, err)
			o.Accepted = false
		} else {
			item.TemplateID = &tpl.ID
			view.local[o.Digest] = struct{}{}
			e.publish(ctx, models.IdentityEvent{
				Type:       models.EventFaceEnroll,
				UserID:     req.OwnerID,
				TemplateID: &tpl.ID,
				BatchID:    batchID,
				Quality:    tpl.Quality,
				IPAddress:  req.Meta.IPAddress,
				UserAgent:  req.Meta.UserAgent,
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	item.Result = o.Result()
	if !o.Accepted {
		item.Reason = o.Message()
		item.ReasonCode = o.Reason.Code()
		slog.Debug("enrollment image rejected",
			"owner_id", req.OwnerID, "batch_id", batchID, "index", index, "reason", o.Reason.Code(), "error", o.Err)
	}

	digest := ""
	if o.Accepted {
		digest = o.Digest
	}
	if err := e.ledger.Record(ctx, batchID, req.OwnerID, digest, item.Result); err != nil {
		slog.Warn("record enrollment outcome", "batch_id", batchID, "error", err)
	}
	observability.EnrollmentOutcomes.WithLabelValues(string(item.Result), o.Reason.Code()).Inc()

	return item, nil
}

func (e *Enroller) persist(ctx context.Context, ownerID uuid.UUID, data []byte, o Outcome) (*models.FaceTemplate, error) {
	ref, err := e.refs.Ref(ctx, ownerID, data, o.Format)
	if err != nil {
		return nil, err
	}

	tpl, err := e.store.Add(ctx, ownerID, o.Embedding, float32(o.Quality), ref)
	if err != nil {
		if rerr := e.refs.Release(ctx, ref); rerr != nil {
			slog.Warn("release source image", "ref", ref, "error", rerr)
		}
		return nil, fmt.Errorf("add template: %w", err)
	}
	return tpl, nil
}

func (e *Enroller) publish(ctx context.Context, evt models.IdentityEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishIdentityEvent(ctx, evt); err != nil {
		slog.Warn("publish identity event", "type", evt.Type, "error", err)
	}
}
