package timebase

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMonotonicMillisStrictlyIncreases(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tb := NewWithClock(fc)

	first := tb.NowMonotonicMillis()
	fc.Advance(5 * time.Millisecond)
	second := tb.NowMonotonicMillis()

	assert.Greater(t, second, first)
}

func TestSetUnixOffsetThenElapsed(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tb := NewWithClock(fc)

	tb.SetUnixOffset(1_700_000_000)
	require.Equal(t, int64(1_700_000_000), tb.NowUnix())

	fc.Advance(10 * time.Second)
	assert.Equal(t, int64(1_700_000_010), tb.NowUnix())
}

func TestMicrosAndMillisAgree(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tb := NewWithClock(fc)

	micros := tb.NowMonotonicMicros()
	millis := tb.NowMonotonicMillis()
	assert.Equal(t, millis, micros/1000)
}
