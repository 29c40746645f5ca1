package replay

import (
	"testing"
	"time"

	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

type stepClock struct {
	current time.Time
}

func (c *stepClock) Now() time.Time { return c.current }

func (c *stepClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newStepClock() *stepClock {
	return &stepClock{current: time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)}
}

func testMetadata() Metadata {
	return Metadata{Seed: 42, Constants: world.DefaultConstants(), DotCount: 3, ConsumePolicy: "remove"}
}

func testSnapshot(tick uint64) world.Snapshot {
	return world.Snapshot{
		Tick:         tick,
		Status:       world.StatusPlaying,
		ServerTimeMs: int64(tick) * 50,
		Players: []world.Player{
			{ID: 1, Name: "Player1", X: 100 + float64(tick), Y: 200, Radius: 10, Score: tick, Speed: 150},
		},
		Dots: []world.Dot{
			{ID: 7, X: 10, Y: 20, Radius: 4, Color: world.Color{255, 0, 0}, Score: 2},
		},
		Constants: world.DefaultConstants(),
	}
}

func writeBundle(t *testing.T, root string, clock *stepClock, ticks []uint64, events []state.Event) string {
	t.Helper()
	writer, _, err := NewWriter(root, "arena-test", testMetadata(), clock.Now)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, tick := range ticks {
		if _, err := writer.AppendFrame(testSnapshot(tick)); err != nil {
			t.Fatalf("AppendFrame(%d): %v", tick, err)
		}
		clock.Advance(50 * time.Millisecond)
	}
	if err := writer.AppendEvents(events); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return writer.Directory()
}
