package core

// Frame is one encoded outbound signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It returns ErrBackpressure when the
	// queue is full and ErrConnClosed after Close.
	TrySend(f Frame) error
	// Close sends a close frame with code and reason and releases the
	// transport. Safe to call more than once.
	Close(code int, reason string)
}
