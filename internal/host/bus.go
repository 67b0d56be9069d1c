package host

import (
	"sync"
	"time"
)

// Message is one application event as delivered to the frontend.
type Message struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

const defaultSubscriberBuffer = 32

// Bus fans named events out to subscribers. Emit never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Message
	next uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Message)}
}

// Emit implements supervisor.Notifier.
func (b *Bus) Emit(event string, payload any) {
	m := Message{Event: event, Payload: payload, At: time.Now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
