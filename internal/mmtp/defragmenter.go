/*
NAME
  defragmenter.go - reassembles head/body/tail MPU and signaling-message
  fragments keyed by MMTP packet sequence number.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mmtp

// State is the Defragmenter's internal phase.
type State int

const (
	StateInit State = iota
	StateNotStarted
	StateInFragment
	StateSkip
)

// Defragmenter reassembles a fragmented byte sequence (MPU or signaling
// message) for a single MMTP packet id. One Defragmenter is owned by the
// demultiplexer per observed packet id; it is never shared.
//
// The buffer is guaranteed empty whenever State is Init, NotStarted, or
// Skip. A malformed head-without-tail sequence is a programming-contract
// violation the caller must have already resynchronized for via Sync, so
// violations here panic rather than silently producing corrupt output.
type Defragmenter struct {
	state              State
	lastSequenceNumber uint32
	haveLast           bool
	buf                []byte
}

// NewDefragmenter returns a Defragmenter in its initial state.
func NewDefragmenter() *Defragmenter {
	return &Defragmenter{state: StateInit}
}

// State reports the current phase, mostly useful for tests and for the
// demultiplexer's "defragmenter is Init" RAP check.
func (d *Defragmenter) State() State { return d.state }

// Sync advances the sequence-number tracking for a newly observed packet.
// It must be called once per MMTP packet before Push.
func (d *Defragmenter) Sync(sequenceNumber uint32, warn func(string)) {
	switch {
	case d.state == StateInit:
		d.state = StateSkip
		d.lastSequenceNumber = sequenceNumber
		d.haveLast = true
	case d.haveLast && sequenceNumber == d.lastSequenceNumber+1:
		d.lastSequenceNumber = sequenceNumber
	case d.haveLast && sequenceNumber != d.lastSequenceNumber:
		if warn != nil {
			warn("mmtp: sequence discontinuity, dropping fragment buffer")
		}
		d.buf = nil
		d.state = StateSkip
		d.lastSequenceNumber = sequenceNumber
	}
}

// Push feeds one fragment's bytes through the state machine. It returns the
// reassembled buffer (and true) when a Tail completes a sequence, or
// (nil, false) when more fragments are needed.
func (d *Defragmenter) Push(indicator FragmentationIndicator, data []byte, warn func(string)) ([]byte, bool) {
	switch indicator {
	case NotFragmented:
		if d.state == StateInFragment {
			panic("mmtp: defragmenter received NotFragmented while InFragment")
		}
		d.state = StateNotStarted
		return data, true

	case FragmentHead:
		if d.state == StateInFragment {
			panic("mmtp: defragmenter received FragmentHead while already InFragment")
		}
		d.state = StateInFragment
		d.buf = append(d.buf, data...)
		return nil, false

	case FragmentBody:
		if d.state == StateSkip {
			if warn != nil {
				warn("mmtp: dropping fragment body in Skip state")
			}
			return nil, false
		}
		if d.state != StateInFragment {
			panic("mmtp: defragmenter received FragmentBody while not InFragment")
		}
		d.buf = append(d.buf, data...)
		return nil, false

	case FragmentTail:
		if d.state == StateSkip {
			if warn != nil {
				warn("mmtp: dropping fragment tail in Skip state")
			}
			return nil, false
		}
		if d.state != StateInFragment {
			panic("mmtp: defragmenter received FragmentTail while not InFragment")
		}
		d.buf = append(d.buf, data...)
		d.state = StateNotStarted
		out := d.buf
		d.buf = nil
		return out, true

	default:
		panic("mmtp: unknown fragmentation indicator")
	}
}
