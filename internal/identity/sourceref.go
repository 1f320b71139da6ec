package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	SourceRefPrefix = "prefix"
	SourceRefObject = "object"
	SourceRefNone   = "none"

	DefaultPrefixLength = 100
	objectKeyPrefix     = "faces/"
)

// SourceRefs decides what is kept of an accepted source image.
type SourceRefs interface {
	Ref(ctx context.Context, ownerID uuid.UUID, data []byte, format string) (string, error)
	// Release frees whatever Ref kept for ref. Unknown refs are ignored.
	Release(ctx context.Context, ref string) error
}

// NewSourceRefs builds the SourceRefs for a configured mode. sink is only
// used by the object mode.
func NewSourceRefs(mode string, prefixLength int, sink ObjectSink) (SourceRefs, error) {
	switch mode {
	case "", SourceRefPrefix:
		if prefixLength <= 0 {
			prefixLength = DefaultPrefixLength
		}
		return PrefixRefs{Length: prefixLength}, nil
	case SourceRefObject:
		if sink == nil {
			return nil, fmt.Errorf("source ref mode %q requires an object store", mode)
		}
		return ObjectRefs{Sink: sink}, nil
	case SourceRefNone:
		return NoRefs{}, nil
	}
	return nil, fmt.Errorf("unknown source ref mode %q", mode)
}

// PrefixRefs keeps the first Length characters of the base64 encoded image.
type PrefixRefs struct {
	Length int
}

func (p PrefixRefs) Ref(_ context.Context, _ uuid.UUID, data []byte, _ string) (string, error) {
	enc := base64.StdEncoding.EncodeToString(data)
	if len(enc) > p.Length {
		enc = enc[:p.Length]
	}
	return enc, nil
}

func (PrefixRefs) Release(context.Context, string) error { return nil }

type NoRefs struct{}

func (NoRefs) Ref(context.Context, uuid.UUID, []byte, string) (string, error) { return "", nil }

func (NoRefs) Release(context.Context, string) error { return nil }

// ObjectRefs stores the full image under faces/<owner>/<uuid>.<ext> and
// uses the object key as the ref.
type ObjectRefs struct {
	Sink ObjectSink
}

func (o ObjectRefs) Ref(ctx context.Context, ownerID uuid.UUID, data []byte, format string) (string, error) {
	ext, contentType := formatInfo(format)
	key := fmt.Sprintf("%s%s/%s.%s", objectKeyPrefix, ownerID, uuid.New(), ext)
	if err := o.Sink.PutObject(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("store source image: %w", err)
	}
	return key, nil
}

func (o ObjectRefs) Release(ctx context.Context, ref string) error {
	if !IsObjectRef(ref) {
		return nil
	}
	if err := o.Sink.DeleteObject(ctx, ref); err != nil {
		return fmt.Errorf("delete source image: %w", err)
	}
	return nil
}

// IsObjectRef reports whether ref names a stored source image.
func IsObjectRef(ref string) bool {
	return strings.HasPrefix(ref, objectKeyPrefix)
}

func formatInfo(format string) (ext, contentType string) {
	switch format {
	case "jpeg", "":
		return "jpg", "image/jpeg"
	case "png":
		return "png", "image/png"
	case "gif":
		return "gif", "image/gif"
	case "bmp":
		return "bmp", "image/bmp"
	case "webp":
		return "webp", "image/webp"
	}
	return format, "application/octet-stream"
}
