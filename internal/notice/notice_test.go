package notice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_KeepsLatest(t *testing.T) {
	rec := NewRecorder(2, nil)

	rec.Notify("a", Short)
	rec.Notify("b", Long)
	rec.Notify("c", Short)

	assert.Equal(t, []string{"b", "c"}, rec.Messages())

	notices := rec.Notices()
	assert.Equal(t, Long, notices[0].Duration)
	assert.False(t, notices[1].At.IsZero())
}

func TestRecorder_Forwards(t *testing.T) {
	inner := NewRecorder(10, nil)
	outer := NewRecorder(10, inner)

	outer.Notify(MessageConfigureFailed, Short)

	assert.Equal(t, []string{MessageConfigureFailed}, inner.Messages())
}

func TestDuration_String(t *testing.T) {
	assert.Equal(t, "short", Short.String())
	assert.Equal(t, "long", Long.String())
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, Long, DurationOf(MessagePermissionRequired))
	assert.Equal(t, Short, DurationOf(MessageConfigureFailed))
	assert.Equal(t, Short, DurationOf(MessageOpenCVUnavailable))
}
