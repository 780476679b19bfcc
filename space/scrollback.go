package space

import "sync"

// scrollback accumulates a terminal's trailing output, capped at a byte
// budget. Serves reads when no remote multiplexer buffer is reachable.
type scrollback struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func newScrollback(max int) *scrollback {
	if max <= 0 {
		max = 64 * 1024
	}
	return &scrollback{max: max}
}

func (s *scrollback) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.data = append(s.data, data...)
	if len(s.data) > s.max {
		trim := len(s.data) - s.max
		s.data = append(s.data[:0], s.data[trim:]...)
	}
	s.mu.Unlock()
}

func (s *scrollback) Load(data []byte) {
	s.mu.Lock()
	s.data = append(s.data[:0], data...)
	if len(s.data) > s.max {
		trim := len(s.data) - s.max
		s.data = append(s.data[:0], s.data[trim:]...)
	}
	s.mu.Unlock()
}

func (s *scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
