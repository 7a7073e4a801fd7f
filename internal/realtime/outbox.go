package realtime

import "log/slog"

// outbox hands frames to connection sinks and counts the outcome.
type outbox struct {
	logger    *slog.Logger
	delivered uint64
	dropped   uint64
}

// send queues a frame on one connection. A false return means the sink
// refused it; the transport is responsible for evicting that connection.
func (o *outbox) send(c *Conn, frame []byte) bool {
	if c.sink == nil || !c.sink.Send(frame) {
		o.dropped++
		o.logger.Warn("Dropped frame for connection", slog.String("connID", string(c.ID)))
		return false
	}
	o.delivered++
	return true
}

// broadcast sends a frame to each connection not matched by skip and
// returns how many accepted it.
func (o *outbox) broadcast(conns []*Conn, frame []byte, skip func(*Conn) bool) int {
	n := 0
	for _, c := range conns {
		if skip != nil && skip(c) {
			continue
		}
		if o.send(c, frame) {
			n++
		}
	}
	return n
}
