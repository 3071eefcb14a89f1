package panel_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/geofeed/geofeed/internal/panel"
	"github.com/geofeed/geofeed/internal/store"
)

type mockSink struct {
	mu      sync.Mutex
	heights []store.SheetHeight
}

func (m *mockSink) SetSheetHeight(h store.SheetHeight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heights = append(m.heights, h)
}

func newController(initial panel.Height, sink panel.HeightSink) *panel.Controller {
	return panel.New(panel.Config{Initial: initial, Sink: sink, Logger: zerolog.Nop()})
}

func drag(c *panel.Controller, from, to float64) panel.Height {
	c.BeginDrag(from)
	return c.EndDrag(to)
}

func TestController_DefaultsToHalf(t *testing.T) {
	c := newController("", nil)
	assert.Equal(t, panel.Half, c.Height())
	assert.Equal(t, panel.PhaseIdle, c.Phase())
}

func TestController_Drag(t *testing.T) {
	tests := []struct {
		name    string
		initial panel.Height
		from    float64
		to      float64
		want    panel.Height
	}{
		{"up from collapsed", panel.Collapsed, 500, 400, panel.Half},
		{"up from half", panel.Half, 500, 400, panel.Full},
		{"up from full saturates", panel.Full, 500, 400, panel.Full},
		{"down from full", panel.Full, 400, 500, panel.Half},
		{"down from half", panel.Half, 400, 500, panel.Collapsed},
		{"down from collapsed saturates", panel.Collapsed, 400, 500, panel.Collapsed},
		{"upward 40px is a tap", panel.Half, 500, 460, panel.Half},
		{"downward 40px is a tap", panel.Half, 460, 500, panel.Half},
		{"upward 41px swipes", panel.Half, 500, 459, panel.Full},
		{"downward 41px swipes", panel.Half, 459, 500, panel.Collapsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(tt.initial, nil)
			assert.Equal(t, tt.want, drag(c, tt.from, tt.to))
			assert.Equal(t, tt.want, c.Height())
			assert.Equal(t, panel.PhaseIdle, c.Phase())
		})
	}
}

func TestController_DraggingPhase(t *testing.T) {
	c := newController(panel.Half, nil)

	c.BeginDrag(300)
	assert.Equal(t, panel.PhaseDragging, c.Phase())

	c.CancelDrag()
	assert.Equal(t, panel.PhaseIdle, c.Phase())
	assert.Equal(t, panel.Half, c.Height())

	// EndDrag without an active gesture is ignored
	assert.Equal(t, panel.Half, c.EndDrag(0))
}

func TestController_SelectMarkerForcesHalf(t *testing.T) {
	for _, initial := range []panel.Height{panel.Collapsed, panel.Half, panel.Full} {
		t.Run(string(initial), func(t *testing.T) {
			c := newController(initial, nil)
			assert.Equal(t, panel.Half, c.SelectMarker())
		})
	}
}

func TestController_ToggleExpand(t *testing.T) {
	c := newController(panel.Half, nil)

	assert.Equal(t, panel.Full, c.ToggleExpand())
	assert.Equal(t, panel.Collapsed, c.ToggleExpand())
	assert.Equal(t, panel.Full, c.ToggleExpand())
}

func TestController_MirrorsHeightToSink(t *testing.T) {
	sink := &mockSink{}
	c := newController(panel.Collapsed, sink)

	var changes []panel.Height
	c.OnChange(func(h panel.Height) { changes = append(changes, h) })

	drag(c, 500, 300) // half
	drag(c, 500, 490) // tap, no change
	c.SelectMarker()  // already half, no change
	c.ToggleExpand()  // full

	assert.Equal(t, []store.SheetHeight{store.SheetHalf, store.SheetFull}, sink.heights)
	assert.Equal(t, []panel.Height{panel.Half, panel.Full}, changes)
}

func TestController_Reset(t *testing.T) {
	sink := &mockSink{}
	c := newController(panel.Collapsed, sink)

	var changes []panel.Height
	c.OnChange(func(h panel.Height) { changes = append(changes, h) })

	c.ToggleExpand() // full
	c.BeginDrag(500)
	assert.Equal(t, panel.Collapsed, c.Reset())
	assert.Equal(t, panel.PhaseIdle, c.Phase())

	// Already at the initial height: nothing to report.
	c.Reset()

	assert.Equal(t, []store.SheetHeight{store.SheetFull, store.SheetCollapsed}, sink.heights)
	assert.Equal(t, []panel.Height{panel.Full, panel.Collapsed}, changes)
}

func TestController_MirrorsIntoStore(t *testing.T) {
	st := store.New(store.Config{Logger: zerolog.Nop()})
	c := newController(panel.Half, st)

	c.ToggleExpand()
	assert.Equal(t, store.SheetFull, st.Snapshot().SheetHeight)
}

func TestViewportPercent(t *testing.T) {
	assert.Equal(t, 15, panel.ViewportPercent(panel.Collapsed))
	assert.Equal(t, 45, panel.ViewportPercent(panel.Half))
	assert.Equal(t, 75, panel.ViewportPercent(panel.Full))

	for _, h := range []panel.Height{panel.Collapsed, panel.Half, panel.Full, "unknown"} {
		assert.LessOrEqual(t, panel.ViewportPercent(h), panel.MaxViewportPercent)
	}
}

func TestNext_TableIsClosed(t *testing.T) {
	heights := []panel.Height{panel.Collapsed, panel.Half, panel.Full}
	events := []panel.Event{
		panel.EventSwipeUp, panel.EventSwipeDown, panel.EventTap,
		panel.EventSelectMarker, panel.EventToggleExpand,
	}

	for _, h := range heights {
		for _, e := range events {
			assert.Contains(t, heights, panel.Next(h, e), "%s on %s", h, e)
		}
		assert.Equal(t, h, panel.Next(h, panel.EventTap))
	}
}
