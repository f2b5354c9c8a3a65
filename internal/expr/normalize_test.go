package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/solar-scheduler/internal/model"
)

func TestApplyDefaults(t *testing.T) {
	def := Defaults{Location: "51.5,-0.12", LocationType: model.LocationFixed}

	t.Run("empty option becomes every-minute cron", func(t *testing.T) {
		opt := &model.Option{}
		ApplyDefaults(opt, 0, def)
		assert.Equal(t, "schedule1", opt.Name)
		assert.Equal(t, "schedule1", opt.Topic)
		assert.Equal(t, model.ExpressionCron, opt.ExpressionType)
		assert.Equal(t, DefaultCronExpression, opt.Expression)
		assert.Equal(t, model.PayloadDefault, opt.PayloadType)
	})

	t.Run("date expression detected", func(t *testing.T) {
		opt := &model.Option{Expression: "2025-06-01T10:00:00"}
		ApplyDefaults(opt, 2, def)
		assert.Equal(t, model.ExpressionDates, opt.ExpressionType)
		assert.Equal(t, "schedule3", opt.Name)
	})

	t.Run("legacy sunrise marker migrates to solar", func(t *testing.T) {
		opt := &model.Option{Name: "legacy", ExpressionType: "sunrise"}
		ApplyDefaults(opt, 0, def)
		assert.Equal(t, model.ExpressionSolar, opt.ExpressionType)
		assert.Equal(t, "sunrise", opt.SolarEvents)
		assert.Equal(t, model.SolarSelected, opt.SolarType)
		assert.Equal(t, "51.5,-0.12", opt.Location)
	})

	t.Run("solar defaults", func(t *testing.T) {
		opt := &model.Option{Name: "sol", ExpressionType: model.ExpressionSolar}
		ApplyDefaults(opt, 0, def)
		assert.Equal(t, model.SolarAll, opt.SolarType)
		assert.Equal(t, "sunrise,sunset", opt.SolarEvents)
		assert.Equal(t, model.LocationFixed, opt.LocationType)
	})

	t.Run("legacy type field folds into payloadType", func(t *testing.T) {
		opt := &model.Option{Name: "n", Expression: "* * * * *", LegacyType: model.PayloadBool}
		ApplyDefaults(opt, 0, def)
		assert.Equal(t, model.PayloadBool, opt.PayloadType)
		assert.Empty(t, opt.LegacyType)
	})
}

func TestValidate(t *testing.T) {
	def := Defaults{Location: "51.5,-0.12", LocationType: model.LocationFixed}

	t.Run("missing name", func(t *testing.T) {
		err := Validate(&model.Option{Expression: "* * * * *"}, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name property missing")
	})

	t.Run("missing expression", func(t *testing.T) {
		err := Validate(&model.Option{Name: "x", ExpressionType: model.ExpressionCron, PayloadType: model.PayloadDefault}, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Schedule 'x'")
		assert.Contains(t, err.Error(), "expression property missing")
	})

	t.Run("cron accepted and typed", func(t *testing.T) {
		opt := &model.Option{Name: "x", Expression: "0 */5 * * * *", PayloadType: model.PayloadDefault}
		require.NoError(t, Validate(opt, true, def))
		assert.Equal(t, model.ExpressionCron, opt.ExpressionType)
	})

	t.Run("date sequence accepted and typed", func(t *testing.T) {
		opt := &model.Option{Name: "x", Expression: "2025-06-01,2025-07-01", PayloadType: model.PayloadDefault}
		require.NoError(t, Validate(opt, true, def))
		assert.Equal(t, model.ExpressionDates, opt.ExpressionType)
	})

	t.Run("garbage expression rejected", func(t *testing.T) {
		opt := &model.Option{Name: "x", Expression: "not a thing", PayloadType: model.PayloadDefault}
		err := Validate(opt, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be either a cron expression")
	})

	t.Run("solar requires location", func(t *testing.T) {
		opt := &model.Option{
			Name: "x", ExpressionType: model.ExpressionSolar,
			LocationType: model.LocationSchedule,
			SolarType:    model.SolarAll, PayloadType: model.PayloadDefault,
		}
		err := Validate(opt, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "location property missing")
	})

	t.Run("invalid solarType", func(t *testing.T) {
		opt := &model.Option{
			Name: "x", ExpressionType: model.ExpressionSolar,
			LocationType: model.LocationFixed, SolarType: "some",
			PayloadType: model.PayloadDefault,
		}
		err := Validate(opt, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "solarType property invalid")
	})

	t.Run("unknown solar event", func(t *testing.T) {
		opt := &model.Option{
			Name: "x", ExpressionType: model.ExpressionSolar,
			LocationType: model.LocationFixed,
			SolarType:    model.SolarSelected, SolarEvents: "sunrise,teatime",
			PayloadType: model.PayloadDefault,
		}
		err := Validate(opt, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'teatime' is invalid")
	})

	t.Run("invalid payload type", func(t *testing.T) {
		opt := &model.Option{Name: "x", Expression: "* * * * *", PayloadType: "yaml"}
		err := Validate(opt, true, def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'yaml' is not valid")
	})

	t.Run("empty payload defaults by type", func(t *testing.T) {
		opt := &model.Option{Name: "x", Expression: "* * * * *", PayloadType: model.PayloadNumber}
		require.NoError(t, Validate(opt, true, def))
		assert.Equal(t, 0, opt.Payload)
	})
}

func TestIsCronLike(t *testing.T) {
	assert.True(t, IsCronLike("* * * * *"))
	assert.True(t, IsCronLike("0 0 12 ? JAN MON"))
	assert.True(t, IsCronLike("anything with a * in it"))
	assert.False(t, IsCronLike("2025-06-01T10:00:00Z"))
	assert.False(t, IsCronLike("1718000000000"))
}

func TestParseDateSequence(t *testing.T) {
	t.Run("sorted csv", func(t *testing.T) {
		dates, ok := ParseDateSequence("2025-07-01, 2025-06-01", nil)
		require.True(t, ok)
		require.Len(t, dates, 2)
		assert.True(t, dates[0].Before(dates[1]))
	})

	t.Run("epoch millis", func(t *testing.T) {
		dates, ok := ParseDateSequence("1750000000000", nil)
		require.True(t, ok)
		assert.Equal(t, int64(1750000000000), dates[0].UnixMilli())
	})

	t.Run("cron-like token fails whole sequence", func(t *testing.T) {
		_, ok := ParseDateSequence("2025-06-01,* * * * *", nil)
		assert.False(t, ok)
	})

	t.Run("unparseable token fails", func(t *testing.T) {
		_, ok := ParseDateSequence("soon", nil)
		assert.False(t, ok)
	})

	t.Run("comma-bearing date formats fail", func(t *testing.T) {
		// The comma is the sequence separator, so formats that contain
		// one split into garbage tokens.
		_, ok := ParseDateSequence("Jan 2, 2026 15:04:05", nil)
		assert.False(t, ok)
	})
}
