package mqtt

// pendingPublish is a publish made while the broker was unreachable.
type pendingPublish struct {
	topic   string
	payload []byte
}

// outbox holds pending publishes in arrival order up to limit entries. When
// full the oldest entry is dropped. Callers synchronise access.
type outbox struct {
	limit   int
	queue   []pendingPublish
	dropped int
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, queue: make([]pendingPublish, 0, limit)}
}

// add queues p and reports whether an older entry had to make room.
func (o *outbox) add(p pendingPublish) bool {
	evicted := false
	if len(o.queue) == o.limit {
		copy(o.queue, o.queue[1:])
		o.queue = o.queue[:o.limit-1]
		o.dropped++
		evicted = true
	}
	o.queue = append(o.queue, p)

	return evicted
}

// take empties the outbox, returning its entries oldest first and the number
// dropped since the previous take.
func (o *outbox) take() ([]pendingPublish, int) {
	if len(o.queue) == 0 && o.dropped == 0 {
		return nil, 0
	}

	out := append([]pendingPublish(nil), o.queue...)
	dropped := o.dropped
	o.queue = o.queue[:0]
	o.dropped = 0

	return out, dropped
}

func (o *outbox) size() int {
	return len(o.queue)
}
