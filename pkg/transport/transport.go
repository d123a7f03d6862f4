// Package transport models the reliable, ordered byte-stream primitives the
// agent is built on (§1's Transport collaborator): publications to send on,
// subscriptions/images to poll from, each with a monotonic position counter,
// plus the dynamic per-follower destinations used for catch-up replay.
package transport

import (
	"context"
	"sync"
)

// Publication is a reliable ordered byte stream the agent writes frames to.
// Offer returns the resulting stream position (>0), or 0 if flow-controlled
// — the backpressure signal callers must retry next tick on.
type Publication interface {
	Offer(frame []byte) (position int64, err error)
	Position() int64
	Close() error
}

// FragmentHandler processes one framed entry read from an Image. Returning
// false aborts the current poll batch (used when the leader cannot append
// forward and must stop consuming mid-fragment).
type FragmentHandler func(frame []byte, position int64) (more bool)

// Image is one subscriber's view of a stream, polled for framed entries up
// to a caller-supplied limit.
type Image interface {
	Poll(handler FragmentHandler, fragmentLimit int) (fragmentsRead int)
	Position() int64
	Available() int64
	IsClosed() bool
}

// Subscription yields Images as publishers connect.
type Subscription interface {
	Images() []Image
	Close() error
}

// Destination is a dynamically added/removed per-follower endpoint on a
// Publication, used for passive-follower catch-up replay and live streams.
type Destination interface {
	AddDestination(ctx context.Context, endpoint string) error
	RemoveDestination(ctx context.Context, endpoint string) error
}

// InMemoryChannel is a deterministic, in-process Publication+Subscription
// pair backed by a single growable buffer, used by the e2e harness in place
// of a real streaming transport.
type InMemoryChannel struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

// NewInMemoryChannel creates an empty channel.
func NewInMemoryChannel() *InMemoryChannel {
	return &InMemoryChannel{}
}

// Publication returns this channel's Publication side.
func (c *InMemoryChannel) Publication() Publication { return &inMemPub{c: c} }

// Image returns a fresh Image over this channel, starting at position 0.
func (c *InMemoryChannel) Image() Image { return &inMemImage{c: c} }

type inMemPub struct{ c *InMemoryChannel }

func (p *inMemPub) Offer(frame []byte) (int64, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.c.closed {
		return 0, errClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	p.c.frames = append(p.c.frames, cp)
	return int64(len(p.c.frames)), nil
}

func (p *inMemPub) Position() int64 {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return int64(len(p.c.frames))
}

func (p *inMemPub) Close() error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.closed = true
	return nil
}

type inMemImage struct {
	c   *InMemoryChannel
	pos int64
}

// Poll dispatches frames starting at img.pos. A handler that returns false
// is a controlled-poll ABORT (§4.5): the fragment it was offered is not
// consumed and img.pos does not advance past it, so the same fragment is
// re-offered on a later Poll call once the caller's ceiling admits it.
func (img *inMemImage) Poll(handler FragmentHandler, fragmentLimit int) int {
	img.c.mu.Lock()
	frames := img.c.frames
	img.c.mu.Unlock()

	read := 0
	for img.pos < int64(len(frames)) && read < fragmentLimit {
		frame := frames[img.pos]
		nextPos := img.pos + 1
		if !handler(frame, nextPos) {
			break
		}
		img.pos = nextPos
		read++
	}
	return read
}

func (img *inMemImage) Position() int64 { return img.pos }

// Available is the highest position offered to this channel so far,
// regardless of how much this image has consumed — a follower reports it as
// its own append position (§4.6's "append-position reports from followers").
func (img *inMemImage) Available() int64 {
	img.c.mu.Lock()
	defer img.c.mu.Unlock()
	return int64(len(img.c.frames))
}

func (img *inMemImage) IsClosed() bool {
	img.c.mu.Lock()
	defer img.c.mu.Unlock()
	return img.c.closed
}

type closedError struct{}

func (closedError) Error() string { return "transport: publication closed" }

var errClosed = closedError{}
