package mqtt

// queued is a message held while the broker is unreachable.
type queued struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected, oldest first.
// A message on a latest-value topic replaces the queued message of the same
// topic in place; everything else is appended. When full, the oldest message
// is dropped. Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs        []queued
	capacity    int
	latestValue func(topic string) bool
	overflow    bool // a message was dropped since the last drain
}

func newOutbox(capacity int, latestValue func(topic string) bool) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:        make([]queued, 0, capacity),
		capacity:    capacity,
		latestValue: latestValue,
	}
}

// add queues m. It returns true the first time a message is dropped since the
// last drain.
func (o *outbox) add(m queued) bool {
	if o.latestValue != nil && o.latestValue(m.topic) {
		for i := range o.msgs {
			if o.msgs[i].topic == m.topic {
				o.msgs[i] = m
				return false
			}
		}
	}

	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, m)
		return false
	}
	copy(o.msgs, o.msgs[1:])
	o.msgs[len(o.msgs)-1] = m
	first := !o.overflow
	o.overflow = true
	return first
}

// drain returns the queued messages and empties the outbox.
func (o *outbox) drain() []queued {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]queued, 0, o.capacity)
	o.overflow = false
	return out
}

func (o *outbox) len() int { return len(o.msgs) }
