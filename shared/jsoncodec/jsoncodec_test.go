package jsoncodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID   int             `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "orders", Data: json.RawMessage(`{"a":1}`)}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"id":42,"name":"orders","data":{"a":1}}`, string(data))

	var out testPayload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.JSONEq(t, string(in.Data), string(out.Data))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var out testPayload
	assert.Error(t, Unmarshal([]byte("{not json"), &out))
	assert.False(t, Valid([]byte("{not json")))
	assert.True(t, Valid([]byte(`{"id":1}`)))
}
