package server

import "sync/atomic"

type counters struct {
	requests    atomic.Uint64
	chunks      atomic.Uint64
	bytes       atomic.Uint64
	acks        atomic.Uint64
	ackTimeouts atomic.Uint64
	dropped     atomic.Uint64
	queries     atomic.Uint64
}

// Stats is a snapshot of server counters.
type Stats struct {
	Requests    uint64
	Chunks      uint64
	Bytes       uint64
	Acks        uint64
	AckTimeouts uint64
	Dropped     uint64
	Queries     uint64
}

// Stats returns the current counters. It is safe to call while Serve runs.
func (s *Server) Stats() Stats {
	return Stats{
		Requests:    s.stats.requests.Load(),
		Chunks:      s.stats.chunks.Load(),
		Bytes:       s.stats.bytes.Load(),
		Acks:        s.stats.acks.Load(),
		AckTimeouts: s.stats.ackTimeouts.Load(),
		Dropped:     s.stats.dropped.Load(),
		Queries:     s.stats.queries.Load(),
	}
}

func (st Stats) attrs() []any {
	return []any{
		"requests", st.Requests,
		"chunks", st.Chunks,
		"bytes", st.Bytes,
		"acks", st.Acks,
		"ack_timeouts", st.AckTimeouts,
		"dropped", st.Dropped,
		"queries", st.Queries,
	}
}
