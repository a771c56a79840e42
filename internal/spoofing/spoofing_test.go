package spoofing

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

type recordingPort struct {
	events []model.AnomalyEvent
}

func (r *recordingPort) Publish(e model.AnomalyEvent) { r.events = append(r.events, e) }

func mustPrice(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newDetector(port AnomalyPort) *Detector {
	return New(Config{
		WallTicks:     3,
		MinWallSize:   mustPrice("1000"),
		TickSize:      mustPrice("0.01"),
		CancelWindow:  5 * time.Second,
		ConfirmWindow: 10 * time.Second,
	}, port)
}

func TestPlacedThenCancelledWallIsSpoofing(t *testing.T) {
	port := &recordingPort{}
	d := newDetector(port)
	now := time.Now()

	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, mustPrice("1500"), fixedpoint.Zero, now)
	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, fixedpoint.Zero, mustPrice("1500"), now.Add(time.Second))

	require.Len(t, port.events, 1)
	require.True(t, d.WasSpoofed(mustPrice("89.00"), model.SideBuy, now.Add(2*time.Second)))
}

func TestFillIsNotCancellation(t *testing.T) {
	port := &recordingPort{}
	d := newDetector(port)
	now := time.Now()

	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, mustPrice("1500"), fixedpoint.Zero, now)
	d.OnTradeFill(mustPrice("89.00"), model.SideBuy, mustPrice("1500"))
	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, fixedpoint.Zero, mustPrice("1500"), now.Add(time.Second))

	require.Empty(t, port.events)
	require.False(t, d.WasSpoofed(mustPrice("89.00"), model.SideBuy, now.Add(2*time.Second)))
}

func TestWasSpoofedExpiresAfterConfirmWindow(t *testing.T) {
	port := &recordingPort{}
	d := newDetector(port)
	now := time.Now()
	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, mustPrice("1500"), fixedpoint.Zero, now)
	d.OnLevelChange(mustPrice("89.00"), model.SideBuy, fixedpoint.Zero, mustPrice("1500"), now.Add(time.Second))

	require.False(t, d.WasSpoofed(mustPrice("89.00"), model.SideBuy, now.Add(time.Minute)))
}
