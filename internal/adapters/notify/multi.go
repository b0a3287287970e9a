package notify

import (
	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
)

// Multi fans one event out to several publishers in order.
type Multi []ports.Publisher

func (m Multi) Publish(ev domain.Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}
