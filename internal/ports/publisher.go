package ports

import "github.com/avelarkai/tradepilot/internal/domain"

// Publisher receives telemetry events from the engine. Implementations must
// not block: a slow consumer drops events rather than stalling a cycle.
// Publishing is fire-and-forget — engine correctness never depends on it.
type Publisher interface {
	Publish(ev domain.Event)
}
