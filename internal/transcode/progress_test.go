package transcode

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("Encoding: task 1 of 1, 42.17 % (87.45 fps, avg 90.12 fps, ETA 00h12m34s)")
	require.True(t, ok)
	assert.Equal(t, 42.2, p.Pct)
	require.NotNil(t, p.EtaSec)
	assert.Equal(t, 754, *p.EtaSec)

	p, ok = ParseProgress("Encoding: task 1 of 1, 3.00 %")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Pct)
	assert.Nil(t, p.EtaSec)

	_, ok = ParseProgress("x265 [info]: frame I: 12, Avg QP:18.22")
	assert.False(t, ok)
	_, ok = ParseProgress("Encoding: task 1 of 1")
	assert.False(t, ok)
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) add(d time.Duration) { c.now = c.now.Add(d) }

func TestForwarderPercentRules(t *testing.T) {
	clock := &stepClock{now: time.Unix(1000, 0)}
	f := newForwarder(clock.Now, time.Millisecond, 100)

	_, ok := f.offer("Encoding: task 1 of 1, 10.00 %")
	assert.True(t, ok, "first percentage is always sent")

	clock.add(100 * time.Millisecond)
	_, ok = f.offer("Encoding: task 1 of 1, 10.20 %")
	assert.False(t, ok, "small change inside the interval is dropped")

	clock.add(100 * time.Millisecond)
	up, ok := f.offer("Encoding: task 1 of 1, 10.60 %")
	require.True(t, ok, "a 0.5 point move is sent")
	assert.Equal(t, 10.6, up.Progress.Pct)

	clock.add(2100 * time.Millisecond)
	_, ok = f.offer("Encoding: task 1 of 1, 10.70 %")
	assert.True(t, ok, "stale percentage is refreshed after 2s")
}

func TestForwarderPlainLines(t *testing.T) {
	clock := &stepClock{now: time.Unix(1000, 0)}
	f := newForwarder(clock.Now, time.Millisecond, 100)

	up, ok := f.offer("Starting work")
	require.True(t, ok)
	assert.Nil(t, up.Progress)

	clock.add(3 * time.Second)
	_, ok = f.offer("still working")
	assert.False(t, ok)

	clock.add(3 * time.Second)
	_, ok = f.offer("still working")
	assert.True(t, ok)

	_, ok = f.offer("   ")
	assert.False(t, ok)
}

func TestForwarderRateLimit(t *testing.T) {
	clock := &stepClock{now: time.Unix(1000, 0)}
	f := newForwarder(clock.Now, time.Second, 2)

	sent := 0
	for pct := 0; pct < 10; pct++ {
		clock.add(10 * time.Millisecond)
		if _, ok := f.offer(fmt.Sprintf("Encoding: task 1 of 1, %d.00 %%", pct*5)); ok {
			sent++
		}
	}
	assert.Equal(t, 2, sent, "burst caps reports even when every line qualifies")
}
