package identity

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestPrefixRefs(t *testing.T) {
	data := []byte(strings.Repeat("x", 300))
	refs, err := NewSourceRefs(SourceRefPrefix, 0, nil)
	require.NoError(t, err)

	ref, err := refs.Ref(context.Background(), uuid.New(), data, "jpeg")
	require.NoError(t, err)
	assert.Len(t, ref, DefaultPrefixLength)
	assert.True(t, strings.HasPrefix(base64.StdEncoding.EncodeToString(data), ref))

	short, err := PrefixRefs{Length: 100}.Ref(context.Background(), uuid.New(), []byte("ab"), "png")
	require.NoError(t, err)
	assert.Equal(t, "YWI=", short)
}

func TestObjectRefs(t *testing.T) {
	sink := newMemObjects()
	refs, err := NewSourceRefs(SourceRefObject, 0, sink)
	require.NoError(t, err)

	owner := uuid.New()
	ref, err := refs.Ref(context.Background(), owner, []byte("img"), "png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "faces/"+owner.String()+"/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))
	assert.Equal(t, "image/png", sink.types[ref])
	assert.True(t, IsObjectRef(ref))

	require.NoError(t, refs.Release(context.Background(), "/9j/4AAQSkZJRg"))
	assert.Len(t, sink.objects, 1)

	require.NoError(t, refs.Release(context.Background(), ref))
	assert.Empty(t, sink.objects)
}

func TestNewSourceRefsModes(t *testing.T) {
	refs, err := NewSourceRefs(SourceRefNone, 0, nil)
	require.NoError(t, err)
	ref, err := refs.Ref(context.Background(), uuid.New(), []byte("img"), "jpeg")
	require.NoError(t, err)
	assert.Empty(t, ref)

	_, err = NewSourceRefs(SourceRefObject, 0, nil)
	assert.Error(t, err)

	_, err = NewSourceRefs("full", 0, nil)
	assert.Error(t, err)
}
