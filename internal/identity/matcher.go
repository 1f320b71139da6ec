package identity

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/observability"
)

// DefaultThreshold is the largest distance, exclusive, accepted as a match.
const DefaultThreshold = 0.6

// MatchResult is the outcome of an identification scan. Confidence is
// 1 - Distance and is meant for display only.
type MatchResult struct {
	Matched    bool
	OwnerID    uuid.UUID
	TemplateID uuid.UUID
	Distance   float64
	Confidence float64

	Scanned    int
	Skipped    int
	Mismatched int
}

// Matcher finds the enrolled template closest to a probe embedding by
// scanning every template in the store.
type Matcher struct {
	store     TemplateStore
	scorer    Scorer
	threshold float64
}

func NewMatcher(store TemplateStore, scorer Scorer, threshold float64) *Matcher {
	if threshold <= 0 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	return &Matcher{store: store, scorer: scorer, threshold: threshold}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

func (m *Matcher) Identify(ctx context.Context, probe Embedding) (MatchResult, error) {
	return m.IdentifyWithThreshold(ctx, probe, m.threshold)
}

// IdentifyWithThreshold scans all templates and returns the one at the
// smallest distance strictly below threshold. On equal distances the
// template listed first wins. Templates that cannot be compared with the
// probe are skipped. No match is reported through MatchResult.Matched, not
// as an error.
func (m *Matcher) IdentifyWithThreshold(ctx context.Context, probe Embedding, threshold float64) (MatchResult, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return MatchResult{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if probe.IsZero() {
		return MatchResult{}, ErrEmptyEmbedding
	}

	templates, err := m.store.ListAll(ctx)
	if err != nil {
		observability.IdentifyTotal.WithLabelValues("error").Inc()
		return MatchResult{}, fmt.Errorf("list templates: %w", err)
	}

	var res MatchResult
	best := math.Inf(1)
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			observability.IdentifyTotal.WithLabelValues("error").Inc()
			return MatchResult{}, err
		}
		res.Scanned++

		c, err := m.scorer.Compare(probe.values, t.Embedding)
		if err != nil {
			res.Skipped++
			slog.Debug("skip template", "template_id", t.ID, "error", err)
			continue
		}
		if c.DimensionMismatch {
			res.Mismatched++
		}

		if c.Distance < threshold && c.Distance < best {
			best = c.Distance
			res.Matched = true
			res.OwnerID = t.OwnerID
			res.TemplateID = t.ID
			res.Distance = c.Distance
		}
	}

	if res.Matched {
		res.Confidence = 1 - res.Distance
	}

	observability.TemplatesScanned.Observe(float64(res.Scanned))
	if res.Skipped > 0 {
		observability.TemplatesSkipped.Add(float64(res.Skipped))
	}
	if res.Mismatched > 0 {
		observability.DimensionMismatches.Add(float64(res.Mismatched))
		slog.Warn("compared embeddings of different length",
			"probe_len", probe.Len(), "mismatched", res.Mismatched, "policy", m.scorer.Policy.String())
	}
	if res.Matched {
		observability.IdentifyTotal.WithLabelValues("matched").Inc()
	} else {
		observability.IdentifyTotal.WithLabelValues("no_match").Inc()
	}

	return res, nil
}
