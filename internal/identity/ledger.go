package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const DefaultBatchTTL = 30 * time.Minute

type Result string

const (
	ResultSuccess   Result = "success"
	ResultDuplicate Result = "duplicate"
	ResultError     Result = "error"
)

type Tally struct {
	Success   int `json:"success"`
	Duplicate int `json:"duplicate"`
	Error     int `json:"error"`
}

func (t *Tally) Add(r Result) {
	switch r {
	case ResultSuccess:
		t.Success++
	case ResultDuplicate:
		t.Duplicate++
	default:
		t.Error++
	}
}

func (t Tally) Total() int { return t.Success + t.Duplicate + t.Error }

type BatchStatus struct {
	BatchID   string    `json:"batch_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Tally     Tally     `json:"tally"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchLedger tracks enrollment batches across requests: the digests of
// accepted images and the running tally. Entries expire after a TTL.
type BatchLedger interface {
	Seen(ctx context.Context, batchID, digest string) (bool, error)
	// Record adds one outcome to the tally. The digest is remembered only
	// for ResultSuccess. The first Record fixes the batch owner; a later
	// Record for another owner fails with ErrBatchOwnerMismatch.
	Record(ctx context.Context, batchID string, ownerID uuid.UUID, digest string, result Result) error
	// Status returns nil, nil for unknown or expired batches.
	Status(ctx context.Context, batchID string) (*BatchStatus, error)
}

type memoryBatch struct {
	status  BatchStatus
	digests map[string]struct{}
}

// MemoryLedger is a BatchLedger backed by an in-process TTL cache.
type MemoryLedger struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultBatchTTL
	}
	return &MemoryLedger{cache: cache.New(ttl, ttl*2), ttl: ttl}
}

func (l *MemoryLedger) Seen(_ context.Context, batchID, digest string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.cache.Get(batchID)
	if !ok {
		return false, nil
	}
	_, seen := v.(*memoryBatch).digests[digest]
	return seen, nil
}

func (l *MemoryLedger) Record(_ context.Context, batchID string, ownerID uuid.UUID, digest string, result Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b *memoryBatch
	if v, ok := l.cache.Get(batchID); ok {
		b = v.(*memoryBatch)
		if b.status.OwnerID != ownerID {
			return ErrBatchOwnerMismatch
		}
	} else {
		b = &memoryBatch{
			status:  BatchStatus{BatchID: batchID, OwnerID: ownerID},
			digests: make(map[string]struct{}),
		}
	}

	b.status.Tally.Add(result)
	b.status.UpdatedAt = time.Now().UTC()
	if result == ResultSuccess && digest != "" {
		b.digests[digest] = struct{}{}
	}

	// Re-setting refreshes the expiry on every write.
	l.cache.Set(batchID, b, l.ttl)
	return nil
}

func (l *MemoryLedger) Status(_ context.Context, batchID string) (*BatchStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.cache.Get(batchID)
	if !ok {
		return nil, nil
	}
	st := v.(*memoryBatch).status
	return &st, nil
}
