package ratp

import (
	"time"

	"github.com/arloliu/go-ratp/internal/util"
)

// retransmitter owns the single unacknowledged segment (RFC 916 §3.5).
//
// Only one SYN, FIN or data segment may be outstanding at a time, so the
// "retransmission queue" of the RFC degenerates into one slot holding the
// wire bytes of that segment.
type retransmitter struct {
	wire    []byte // nil when nothing is outstanding
	sentAt  time.Time
	retries int

	maxRetries int
	minRTO     time.Duration
	srtt       time.Duration
	rto        time.Duration
}

func newRetransmitter(cfg *ConnectionConfig) *retransmitter {
	r := &retransmitter{
		maxRetries: cfg.maxRetransmission,
		minRTO:     cfg.minRTO,
		srtt:       DefaultInitialSRTT,
	}
	r.updateRTO()

	return r
}

// pending reports whether a segment is waiting for its acknowledgment.
func (r *retransmitter) pending() bool {
	return r.wire != nil
}

// arm stores a copy of wire as the outstanding segment and restarts the timer.
func (r *retransmitter) arm(wire []byte, now time.Time) {
	r.wire = util.CloneSlice(wire, 0)
	r.sentAt = now
	r.retries = 0
}

// clear drops the outstanding segment without touching the RTT estimate.
func (r *retransmitter) clear() {
	r.wire = nil
	r.retries = 0
}

// ack clears the outstanding segment and feeds the measured round trip time
// into the estimator. It returns the measured rtt; ok is false when nothing
// was outstanding.
func (r *retransmitter) ack(now time.Time) (rtt time.Duration, ok bool) {
	if !r.pending() {
		return 0, false
	}

	rtt = now.Sub(r.sentAt)
	if rtt < 0 {
		rtt = 0
	}

	// SRTT = ALPHA * SRTT + (1 - ALPHA) * RTT with ALPHA = 0.8.
	r.srtt = (8*r.srtt + 2*rtt) / 10
	r.updateRTO()
	r.clear()

	return rtt, true
}

// updateRTO applies RTO = max(minRTO, 1.5 * SRTT).
func (r *retransmitter) updateRTO() {
	r.rto = max(r.minRTO, r.srtt*3/2)
}

// due reports whether the outstanding segment's RTO has elapsed.
func (r *retransmitter) due(now time.Time) bool {
	return r.pending() && now.Sub(r.sentAt) >= r.rto
}

// exhausted reports whether the retransmission limit has been reached.
func (r *retransmitter) exhausted() bool {
	return r.retries >= r.maxRetries
}

// retransmitted records one retransmission of the outstanding segment.
func (r *retransmitter) retransmitted(now time.Time) {
	r.retries++
	r.sentAt = now
}

// timeWait returns the TIME-WAIT duration, twice the smoothed RTT.
func (r *retransmitter) timeWait() time.Duration {
	return 2 * r.srtt
}
