package main

import "sync"

// writer serializes outbound websocket writes through a single goroutine.
// Enqueue never blocks: when a client can not keep up its oldest pending
// update is dropped, the next snapshot supersedes it anyway.
type writer struct {
	mu       sync.Mutex
	messages chan []byte
	closed   bool

	writeFn func([]byte) error
	onError func(error)
}

func newWriter(writeFn func([]byte) error, onError func(error)) *writer {
	w := &writer{
		messages: make(chan []byte, 64),
		writeFn:  writeFn,
		onError:  onError,
	}

	go w.runWriteRoutine()
	return w
}

func (w *writer) runWriteRoutine() {
	for msg := range w.messages {
		if err := w.writeFn(msg); err != nil {
			w.onError(err)
			return
		}
	}
}

func (w *writer) enqueue(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	for {
		select {
		case w.messages <- data:
			return
		default:
		}
		select {
		case <-w.messages:
		default:
		}
	}
}

func (w *writer) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.messages)
}
