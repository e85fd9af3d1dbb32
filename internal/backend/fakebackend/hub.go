package fakebackend

import (
	"sync"
)

// subscriber is one connected push stream.
type subscriber struct {
	frames chan []byte
	drop   chan struct{}
	once   sync.Once
}

func newSubscriber(backlog int) *subscriber {
	return &subscriber{
		frames: make(chan []byte, backlog+256),
		drop:   make(chan struct{}),
	}
}

func (s *subscriber) disconnect() {
	s.once.Do(func() { close(s.drop) })
}

// session tracks a session's streams. Frames published while no stream is
// connected wait in backlog and are flushed to the next subscriber.
type session struct {
	id          string
	subscribers map[*subscriber]struct{}
	backlog     [][]byte
	connects    int
	intent      *intent
}

func (s *session) publish(frame []byte) {
	if len(s.subscribers) == 0 {
		s.backlog = append(s.backlog, frame)
		return
	}
	for sub := range s.subscribers {
		select {
		case sub.frames <- frame:
		default:
			// Slow reader: cut it loose so the client reconnects.
			s.unsubscribe(sub)
		}
	}
}

func (s *session) subscribe() *subscriber {
	sub := newSubscriber(len(s.backlog))
	for _, frame := range s.backlog {
		sub.frames <- frame
	}
	s.backlog = nil
	s.subscribers[sub] = struct{}{}
	s.connects++
	return sub
}

// unsubscribe detaches sub so later frames go to other streams or the
// backlog, then ends its connection.
func (s *session) unsubscribe(sub *subscriber) {
	delete(s.subscribers, sub)
	sub.disconnect()
}
