package tailer

import "context"

// MemorySource is an in-process Source for tests: events queued with
// Push are replayed, in order, to whatever Tailer.Run is draining.
type MemorySource struct {
	events chan ChangeEvent
}

// NewMemorySource builds a MemorySource with the given buffer size.
func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{events: make(chan ChangeEvent, buffer)}
}

// Push enqueues ev for delivery.
func (m *MemorySource) Push(ev ChangeEvent) { m.events <- ev }

// Close signals no further events will be pushed.
func (m *MemorySource) Close() { close(m.events) }

func (m *MemorySource) Run(ctx context.Context, out chan<- ChangeEvent) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.events:
			if !ok {
				return nil
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
