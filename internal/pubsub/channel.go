package pubsub

import "context"

// Channel is a single-slot buffer with overwrite-on-write semantics: a write
// always replaces whatever the slot holds, a read drains the slot or blocks
// until a value arrives. A slow reader therefore never drains a backlog of
// stale values; it always gets the freshest one, and memory stays bounded no
// matter how fast the publisher runs.
//
// Exactly one goroutine reads from a given Channel. Channels are created and
// registered through Hub.Subscribe.
type Channel struct {
	slot chan string
}

func newChannel() *Channel {
	return &Channel{slot: make(chan string, 1)}
}

// put replaces the slot content, dropping any stale value still stored.
// It never blocks. Callers are serialized by the Hub lock.
func (c *Channel) put(msg string) {
	select {
	case <-c.slot:
	default:
	}
	c.slot <- msg
}

// Get blocks until a value is available or ctx is cancelled, then drains and
// returns the slot content.
func (c *Channel) Get(ctx context.Context) (string, error) {
	select {
	case msg := <-c.slot:
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// C exposes the slot for use in select loops. Receiving from it drains the
// slot, exactly like Get.
func (c *Channel) C() <-chan string {
	return c.slot
}
