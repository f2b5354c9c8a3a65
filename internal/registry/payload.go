package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// resolvePayload materializes a schedule's payload for one firing.
// Resolution failures fall back to the raw configured value so a bad
// payload never suppresses the firing itself.
func (r *Registry) resolvePayload(ctx context.Context, t *Task, firedAt time.Time) any {
	opt := t.Opt
	switch opt.PayloadType {
	case model.PayloadDefault, "":
		return defaultPayload(t, firedAt)
	case model.PayloadNone:
		return nil
	case model.PayloadString:
		if opt.Payload == nil {
			return ""
		}
		return fmt.Sprintf("%v", opt.Payload)
	case model.PayloadNumber:
		return coerceNumber(opt.Payload)
	case model.PayloadBool:
		return coerceBool(opt.Payload)
	case model.PayloadDate:
		return firedAt
	case model.PayloadJSON:
		if s, ok := opt.Payload.(string); ok {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err == nil {
				return v
			}
			r.logger.Warn("payload is not valid JSON, sending raw string",
				zap.String("schedule", t.Name))
			return s
		}
		return opt.Payload
	case model.PayloadEnv:
		if s, ok := opt.Payload.(string); ok {
			return os.Getenv(s)
		}
		return ""
	case model.PayloadBinary:
		if s, ok := opt.Payload.(string); ok {
			return []byte(s)
		}
		return opt.Payload
	case model.PayloadCustom:
		if s, ok := opt.Payload.(string); ok {
			if v, found := r.env.CustomPayloads[s]; found {
				return v
			}
		}
		return opt.Payload
	case model.PayloadFlow, model.PayloadGlobal, model.PayloadJSONata:
		if r.env.Evaluator == nil {
			return opt.Payload
		}
		v, err := r.env.Evaluator.Evaluate(ctx, opt.PayloadType, opt.Payload)
		if err != nil {
			r.logger.Warn("payload evaluation failed, sending raw value",
				zap.String("schedule", t.Name),
				zap.String("payloadType", string(opt.PayloadType)),
				zap.Error(err))
			return opt.Payload
		}
		return v
	default:
		return opt.Payload
	}
}

// defaultPayload is what a schedule sends when no payload is
// configured: the firing timestamp in epoch milliseconds.
func defaultPayload(t *Task, firedAt time.Time) any {
	return firedAt.UnixMilli()
}

func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
