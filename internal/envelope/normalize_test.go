package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

const tokenPayload = `{"text":"hello"}`

func wrap(t *testing.T, shape Shape, typ, payload string) []byte {
	t.Helper()

	var (
		out []byte
		err error
	)
	switch shape {
	case ShapeTopLevel:
		out, err = sjson.SetBytes([]byte(`{}`), "type", typ)
		require.NoError(t, err)
		out, err = sjson.SetRawBytes(out, "payload", []byte(payload))
	case ShapeDataWrapped:
		out, err = sjson.SetBytes([]byte(`{"id":"evt-1"}`), "data.type", typ)
		require.NoError(t, err)
		out, err = sjson.SetRawBytes(out, "data.payload", []byte(payload))
	case ShapePayloadTyped:
		out, err = sjson.SetBytes([]byte(`{}`), "payload.type", typ)
		require.NoError(t, err)
		out, err = sjson.SetRawBytes(out, "payload.payload", []byte(payload))
	}
	require.NoError(t, err)
	return out
}

func TestNormalize_AllShapesAgree(t *testing.T) {
	for _, shape := range []Shape{ShapeTopLevel, ShapeDataWrapped, ShapePayloadTyped} {
		t.Run(string(shape), func(t *testing.T) {
			env, got, err := NormalizeShape(wrap(t, shape, TypeToken, tokenPayload))
			require.NoError(t, err)
			assert.Equal(t, shape, got)
			assert.Equal(t, TypeToken, env.Type)
			assert.JSONEq(t, tokenPayload, string(env.Payload))
		})
	}
}

func TestNormalize_PayloadDefaultsToContainer(t *testing.T) {
	env, shape, err := NormalizeShape([]byte(`{"data":{"type":"token","text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeDataWrapped, shape)
	assert.Equal(t, TypeToken, env.Type)
	assert.Equal(t, TokenEvent{Text: "hi"}, Decode(env))

	env, shape, err = NormalizeShape([]byte(`{"payload":{"type":"token","text":"yo"}}`))
	require.NoError(t, err)
	assert.Equal(t, ShapePayloadTyped, shape)
	assert.Equal(t, TokenEvent{Text: "yo"}, Decode(env))
}

func TestNormalize_TopLevelWinsOverData(t *testing.T) {
	frame := []byte(`{"type":"token","payload":{"text":"a"},"data":{"type":"log","payload":{}}}`)

	env, shape, err := NormalizeShape(frame)
	require.NoError(t, err)
	assert.Equal(t, ShapeTopLevel, shape)
	assert.Equal(t, TypeToken, env.Type)
}

func TestNormalize_TopLevelTypeWithoutPayloadFallsThrough(t *testing.T) {
	frame := []byte(`{"type":"session_event","data":{"type":"token","payload":{"text":"x"}}}`)

	env, shape, err := NormalizeShape(frame)
	require.NoError(t, err)
	assert.Equal(t, ShapeDataWrapped, shape)
	assert.Equal(t, TypeToken, env.Type)
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{"type":`, apperrors.ErrMalformedFrame},
		{"array", `[1,2]`, apperrors.ErrUnrecognizedEnvelope},
		{"no type anywhere", `{"payload":{"text":"x"}}`, apperrors.ErrUnrecognizedEnvelope},
		{"numeric type", `{"type":5,"payload":{}}`, apperrors.ErrUnrecognizedEnvelope},
		{"empty object", `{}`, apperrors.ErrUnrecognizedEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
