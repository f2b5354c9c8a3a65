package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/solar-scheduler/internal/model"
)

type staticEvaluator struct {
	value any
	err   error
}

func (e staticEvaluator) Evaluate(ctx context.Context, kind model.PayloadType, value any) (any, error) {
	return e.value, e.err
}

func payloadTask(payloadType model.PayloadType, payload any) *Task {
	return &Task{
		Name: "t",
		Opt:  &model.Option{Name: "t", PayloadType: payloadType, Payload: payload},
	}
}

func TestResolvePayload(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	firedAt := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	t.Run("default is the firing timestamp in epoch millis", func(t *testing.T) {
		got := r.resolvePayload(ctx, payloadTask(model.PayloadDefault, nil), firedAt)
		assert.Equal(t, firedAt.UnixMilli(), got)
	})

	t.Run("none", func(t *testing.T) {
		assert.Nil(t, r.resolvePayload(ctx, payloadTask(model.PayloadNone, "ignored"), firedAt))
	})

	t.Run("string coercion", func(t *testing.T) {
		assert.Equal(t, "42", r.resolvePayload(ctx, payloadTask(model.PayloadString, 42), firedAt))
		assert.Equal(t, "", r.resolvePayload(ctx, payloadTask(model.PayloadString, nil), firedAt))
	})

	t.Run("number coercion", func(t *testing.T) {
		assert.Equal(t, 3.5, r.resolvePayload(ctx, payloadTask(model.PayloadNumber, "3.5"), firedAt))
		assert.Equal(t, 7.0, r.resolvePayload(ctx, payloadTask(model.PayloadNumber, 7), firedAt))
		assert.Equal(t, 0.0, r.resolvePayload(ctx, payloadTask(model.PayloadNumber, "junk"), firedAt))
	})

	t.Run("bool coercion", func(t *testing.T) {
		assert.Equal(t, true, r.resolvePayload(ctx, payloadTask(model.PayloadBool, "true"), firedAt))
		assert.Equal(t, false, r.resolvePayload(ctx, payloadTask(model.PayloadBool, 0.0), firedAt))
		assert.Equal(t, true, r.resolvePayload(ctx, payloadTask(model.PayloadBool, true), firedAt))
	})

	t.Run("date is the firing time", func(t *testing.T) {
		assert.Equal(t, firedAt, r.resolvePayload(ctx, payloadTask(model.PayloadDate, nil), firedAt))
	})

	t.Run("json decodes, bad json falls back to the raw string", func(t *testing.T) {
		got := r.resolvePayload(ctx, payloadTask(model.PayloadJSON, `{"on": true}`), firedAt)
		m, ok := got.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, m["on"])

		got = r.resolvePayload(ctx, payloadTask(model.PayloadJSON, "{broken"), firedAt)
		assert.Equal(t, "{broken", got)
	})

	t.Run("env reads the named variable", func(t *testing.T) {
		t.Setenv("SCHEDULER_TEST_PAYLOAD", "hello")
		got := r.resolvePayload(ctx, payloadTask(model.PayloadEnv, "SCHEDULER_TEST_PAYLOAD"), firedAt)
		assert.Equal(t, "hello", got)
	})

	t.Run("bin returns bytes", func(t *testing.T) {
		got := r.resolvePayload(ctx, payloadTask(model.PayloadBinary, "abc"), firedAt)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("custom looks up the environment map", func(t *testing.T) {
		r.env.CustomPayloads = map[string]any{"scene": map[string]any{"bri": 200}}
		got := r.resolvePayload(ctx, payloadTask(model.PayloadCustom, "scene"), firedAt)
		assert.Equal(t, r.env.CustomPayloads["scene"], got)

		got = r.resolvePayload(ctx, payloadTask(model.PayloadCustom, "missing"), firedAt)
		assert.Equal(t, "missing", got)
	})

	t.Run("evaluator resolves expression payloads", func(t *testing.T) {
		r.env.Evaluator = staticEvaluator{value: "evaluated"}
		got := r.resolvePayload(ctx, payloadTask(model.PayloadJSONata, "$now()"), firedAt)
		assert.Equal(t, "evaluated", got)

		// A failing evaluator degrades to the raw value.
		r.env.Evaluator = staticEvaluator{err: assert.AnError}
		got = r.resolvePayload(ctx, payloadTask(model.PayloadFlow, "some.key"), firedAt)
		assert.Equal(t, "some.key", got)

		// No evaluator at all behaves the same.
		r.env.Evaluator = nil
		got = r.resolvePayload(ctx, payloadTask(model.PayloadGlobal, "other.key"), firedAt)
		assert.Equal(t, "other.key", got)
	})
}
