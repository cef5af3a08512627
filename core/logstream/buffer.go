// Package logstream supervises one log streaming task per active job. The
// primary transport is the provider's duplex log endpoint; when it cannot be
// established or drops mid-stream the task falls back to cursor-based REST
// polling and re-attempts the duplex transport on a backoff schedule.
// Subscribers observe entries in non-decreasing cursor order with no
// duplicates, regardless of transport flaps.
package logstream

import (
	"context"
	"sync"

	"finetune-orchestrator/core/models"
)

// Buffer is an ordered, replayable in-flight log buffer. Entries are
// appended with provider-assigned cursors; appends with a cursor at or below
// the high-water mark are discarded, which deduplicates entries re-delivered
// after a transport switch. Subscribers can replay from any cursor.
type Buffer struct {
	mu      sync.Mutex
	entries []models.LogEntry
	last    uint64
	closed  bool
	notify  chan struct{} // closed and replaced on each append or close
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{notify: make(chan struct{})}
}

// Append adds entries to the buffer, discarding any whose cursor is not
// beyond the current high-water mark, then wakes all waiters. Appending to a
// closed buffer is a no-op.
func (b *Buffer) Append(entries ...models.LogEntry) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	appended := false
	for _, e := range entries {
		if e.Cursor <= b.last {
			continue
		}
		b.entries = append(b.entries, e)
		b.last = e.Cursor
		appended = true
	}
	if !appended {
		b.mu.Unlock()
		return
	}
	ch := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(ch) // wake all waiters
}

// LastCursor returns the high-water mark, 0 if nothing has been appended.
func (b *Buffer) LastCursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Close marks the stream finished. Subscribers drain remaining entries and
// then their channels close. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ch := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(ch)
}

// Closed reports whether the buffer has been closed.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// since returns entries with Cursor > cursor. Caller must hold b.mu.
func (b *Buffer) since(cursor uint64) []models.LogEntry {
	// Cursors are ascending within entries, so scan from the back for the
	// common tail case.
	idx := len(b.entries)
	for idx > 0 && b.entries[idx-1].Cursor > cursor {
		idx--
	}
	if idx == len(b.entries) {
		return nil
	}
	out := make([]models.LogEntry, len(b.entries)-idx)
	copy(out, b.entries[idx:])
	return out
}

// Subscribe returns a channel delivering entries with cursor > fromCursor.
// Existing entries are replayed first, then new entries as they arrive. The
// channel closes when the buffer is closed and drained, or when ctx is
// cancelled. Delivery blocks rather than dropping, so a slow subscriber lags
// but never observes a gap.
func (b *Buffer) Subscribe(ctx context.Context, fromCursor uint64) <-chan models.LogEntry {
	ch := make(chan models.LogEntry, 64)

	go func() {
		defer close(ch)
		cursor := fromCursor

		for {
			b.mu.Lock()
			batch := b.since(cursor)
			closed := b.closed
			notify := b.notify
			b.mu.Unlock()

			for _, e := range batch {
				select {
				case ch <- e:
					cursor = e.Cursor
				case <-ctx.Done():
					return
				}
			}

			if closed {
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
