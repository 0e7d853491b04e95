package pulse

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsFreshID(t *testing.T) {
	a := New("status", "repo:delta", json.RawMessage(`{"file":"a.go"}`))
	b := New("status", "repo:delta", json.RawMessage(`{"file":"a.go"}`))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "repo:delta", a.Channel)
	assert.Equal(t, "status", a.Type)
}

func TestWithMetadata(t *testing.T) {
	p := New("status", "team:alert", json.RawMessage(`{}`))
	withMeta := p.WithMetadata(json.RawMessage(`{"source":"agent-1"}`))
	assert.Nil(t, p.Metadata)
	assert.JSONEq(t, `{"source":"agent-1"}`, string(withMeta.Metadata))
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	p := New("delta", "repo:delta", json.RawMessage(`{"file":"test.py"}`))
	b, err := p.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, p.ID, restored.ID)
	assert.Equal(t, p.Channel, restored.Channel)
	assert.JSONEq(t, string(p.Data), string(restored.Data))
}
