package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		text string
	}{
		{"21.5", KindNumber, "21.5"},
		{" -3 ", KindNumber, "-3"},
		{"on", KindBool, "on"},
		{"OFF", KindBool, "off"},
		{"unavailable", KindUnavailable, "unavailable"},
		{"unknown", KindUnavailable, "unavailable"},
		{"", KindUnavailable, "unavailable"},
		{"heat", KindString, "heat"},
		{"NaN", KindUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := ParseState(tt.raw)
			require.Equal(t, tt.kind, v.Kind())
			require.Equal(t, tt.text, v.Text())
		})
	}
}

func TestCanonicalDistinguishesKinds(t *testing.T) {
	require.NotEqual(t, String("1").Canonical(), Number(1).Canonical())
	require.NotEqual(t, String("on").Canonical(), Bool(true).Canonical())
	require.Equal(t, Number(0).Canonical(), Number(-0.0).Canonical())
	require.True(t, Number(21).Equal(Number(21.0)))
	require.False(t, Number(21).Equal(Number(21.5)))
}

func TestSnapshotIsImmutable(t *testing.T) {
	states := map[string]State{"sensor.a": {Value: Number(1)}}
	snap := NewSnapshot(time.Unix(100, 0), states)
	states["sensor.a"] = State{Value: Number(2)}
	states["sensor.b"] = State{Value: Number(3)}

	st, ok := snap.Get("sensor.a")
	require.True(t, ok)
	require.True(t, st.Value.Equal(Number(1)))
	_, ok = snap.Get("sensor.b")
	require.False(t, ok)
	require.Equal(t, []string{"sensor.a"}, snap.IDs())
}

func TestSnapshotRestrict(t *testing.T) {
	snap := NewSnapshot(time.Unix(1, 0), map[string]State{
		"a": {Value: Number(1)},
		"b": {Value: Number(2)},
		"c": {Value: Number(3)},
	})
	r := snap.Restrict([]string{"a", "c", "missing"})
	require.Equal(t, []string{"a", "c"}, r.IDs())
	require.Equal(t, snap.ObservedAt(), r.ObservedAt())
}

func TestMemorySourceSubscribeFiltersEntities(t *testing.T) {
	src := NewMemorySource()
	var mu sync.Mutex
	var got []string
	sub, err := src.Subscribe(context.Background(), []string{"a", "b"}, func(c Change) {
		mu.Lock()
		got = append(got, c.EntityID)
		mu.Unlock()
	})
	require.NoError(t, err)

	src.Set("a", Number(1))
	src.Set("c", Number(2))
	src.Set("b", Bool(true))

	mu.Lock()
	require.Equal(t, []string{"a", "b"}, got)
	mu.Unlock()

	require.NoError(t, sub.Unsubscribe())
	src.Set("a", Number(5))
	require.Equal(t, 0, src.SubscriberCount())
	require.Len(t, got, 2)
}

func TestMemorySourceUnsubscribesOnContextCancel(t *testing.T) {
	src := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := src.Subscribe(ctx, []string{"a"}, func(Change) {})
	require.NoError(t, err)
	require.Equal(t, 1, src.SubscriberCount())
	cancel()
	require.Eventually(t, func() bool { return src.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemorySourceSnapshotAndLastChanged(t *testing.T) {
	now := time.Unix(1000, 0)
	src := NewMemorySource().WithClock(func() time.Time { return now })
	src.Set("sensor.temp", Number(21))
	now = now.Add(time.Minute)
	src.Set("sensor.temp", Number(21))

	snap, err := src.CurrentSnapshot(context.Background(), []string{"sensor.temp", "sensor.none"})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	st, _ := snap.Get("sensor.temp")
	require.Equal(t, time.Unix(1000, 0), st.LastChanged)
	require.Equal(t, now, snap.ObservedAt())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.CurrentSnapshot(ctx, []string{"sensor.temp"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemorySourceReplaceNotifiesOnlyDifferences(t *testing.T) {
	src := NewMemorySource()
	src.Set("a", Number(1))
	src.Set("b", Number(2))

	var got []Change
	_, err := src.Subscribe(context.Background(), []string{"a", "b", "c"}, func(c Change) { got = append(got, c) })
	require.NoError(t, err)

	src.Replace(map[string]Value{"a": Number(1), "c": String("x")})
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].EntityID)
	require.False(t, got[0].State.Value.IsAvailable())
	require.Equal(t, "c", got[1].EntityID)
}

func TestParseStateDocument(t *testing.T) {
	states, err := ParseStateDocument([]byte(`
sensor.temp: 21.5
sensor.count: 3
light.kitchen: "on"
binary_sensor.door: false
sensor.outdoor: unavailable
sensor.mode: heat
sensor.empty:
`))
	require.NoError(t, err)
	require.True(t, states["sensor.temp"].Equal(Number(21.5)))
	require.True(t, states["sensor.count"].Equal(Number(3)))
	require.True(t, states["light.kitchen"].Equal(Bool(true)))
	require.True(t, states["binary_sensor.door"].Equal(Bool(false)))
	require.False(t, states["sensor.outdoor"].IsAvailable())
	require.True(t, states["sensor.mode"].Equal(String("heat")))
	require.False(t, states["sensor.empty"].IsAvailable())
}
