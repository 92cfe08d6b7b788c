package hub

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrHubUnavailable is returned when the hub has stopped.
	ErrHubUnavailable = errors.New("hub unavailable")
	// ErrHubBusy is returned when the mailbox stayed full for the whole enqueue timeout.
	ErrHubBusy = errors.New("hub busy")
	// ErrOutboxClosed is returned by Push after the outbox has been closed.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the outbox buffer is full.
	ErrOutboxFull = errors.New("outbox full")
)

// DefaultOutboxSize is used when NewOutbox is given a non-positive size.
const DefaultOutboxSize = 64

// Outbox is the delivery handle for one connection. The hub pushes broadcast
// text into it and the owning session drains Messages onto its socket.
type Outbox struct {
	label  string
	msgs   chan string
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an open Outbox. label only appears in error messages.
//
// Postcondition: Returns an Outbox with an open buffered channel of the given size.
func NewOutbox(label string, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		label: label,
		msgs:  make(chan string, size),
	}
}

// Push enqueues text without blocking.
//
// Postcondition: text is buffered, or an error wrapping ErrOutboxClosed or
// ErrOutboxFull is returned and nothing is buffered.
func (o *Outbox) Push(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s: %w", o.label, ErrOutboxClosed)
	}
	select {
	case o.msgs <- text:
		return nil
	default:
		return fmt.Errorf("outbox %s: %w", o.label, ErrOutboxFull)
	}
}

// Messages returns the receive side of the outbox. It is closed by Close,
// after which any buffered messages can still be drained.
func (o *Outbox) Messages() <-chan string {
	return o.msgs
}

// Close invalidates the outbox. Safe to call more than once.
//
// Postcondition: Messages is closed and further Push calls fail with ErrOutboxClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.msgs)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of buffered, undelivered messages.
func (o *Outbox) Len() int {
	return len(o.msgs)
}
