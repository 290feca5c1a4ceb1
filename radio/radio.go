// Package radio defines the Radio driver boundary the engine schedules
// against — transmit, receive, channel activity detection, power states —
// plus an in-memory mock used by tests and the example simulator.
//
// The real driver is explicitly out of scope (spec.md §1); this package
// only specifies the contract the scheduler calls into, grounded on the
// teacher's transport.Transport interface shape (context-scoped lifecycle,
// callback registration for async events).
package radio

import (
	"context"
	"time"

	"github.com/aethermesh/aethermesh/xerrors"
)

// Radio is the driver boundary (spec.md §1): transmit, startReceive,
// readData, getRSSI, getSNR, getTimeOnAir, scanChannel, standby, sleep,
// plus a receive-done hook.
type Radio interface {
	// Transmit sends frame over the air. Blocks until the transmission
	// completes or fails.
	Transmit(ctx context.Context, frame []byte) error

	// StartReceive arms the radio into continuous receive mode.
	StartReceive(ctx context.Context) error

	// ReadData reads out the most recently received frame. Returns
	// xerrors.KindReception on a malformed or truncated read.
	ReadData() ([]byte, error)

	// GetRSSI returns the RSSI (dBm) of the most recently received frame.
	GetRSSI() float32

	// GetSNR returns the SNR (dB) of the most recently received frame.
	GetSNR() float32

	// GetTimeOnAir estimates the on-air duration for a frame of the given
	// size at the radio's current modulation parameters.
	GetTimeOnAir(payloadSize int) time.Duration

	// ScanChannel performs a channel-activity-detect scan, reporting
	// whether a preamble was detected (carrier sense, spec.md §4.4.2).
	ScanChannel(ctx context.Context) (busy bool, err error)

	// Standby parks the radio in a low-power, non-receiving state.
	Standby() error

	// Sleep parks the radio in its lowest-power state.
	Sleep() error

	// OnReceiveDone registers the callback invoked whenever a frame
	// finishes arriving (the receive-done interrupt hook, spec.md §1).
	OnReceiveDone(fn func())
}

// Mock is an in-memory Radio used by tests and cmd/simnode, wired directly
// to a peer Mock rather than any physical medium.
type Mock struct {
	peer *Mock

	rxQueue chan []byte
	rssi    float32
	snr     float32

	onReceiveDone func()

	airTimePerByte time.Duration
	failNextTX     bool
}

// NewMock creates a Mock radio with the given simulated per-byte air time.
func NewMock(airTimePerByte time.Duration) *Mock {
	if airTimePerByte <= 0 {
		airTimePerByte = 200 * time.Microsecond
	}
	return &Mock{
		rxQueue:        make(chan []byte, 64),
		airTimePerByte: airTimePerByte,
	}
}

// Pair connects two Mock radios so that a Transmit on one becomes a
// ReadData on the other.
func Pair(a, b *Mock) {
	a.peer = b
	b.peer = a
}

// SetLinkMetadata sets the RSSI/SNR a peer's transmissions will be
// annotated with.
func (m *Mock) SetLinkMetadata(rssi, snr float32) {
	m.rssi = rssi
	m.snr = snr
}

// FailNextTransmit makes the next Transmit call return a transmission
// error. The engine's send path counts such a failure in send_errors and
// drops the packet; it does not re-queue or resend it.
func (m *Mock) FailNextTransmit() {
	m.failNextTX = true
}

func (m *Mock) Transmit(ctx context.Context, frame []byte) error {
	if m.failNextTX {
		m.failNextTX = false
		return xerrors.New(xerrors.KindTransmission, "simulated transmit failure")
	}
	if m.peer == nil {
		return nil
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case m.peer.rxQueue <- cp:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return xerrors.New(xerrors.KindBufferOverflow, "peer receive queue full")
	}
	if m.peer.onReceiveDone != nil {
		m.peer.onReceiveDone()
	}
	return nil
}

func (m *Mock) StartReceive(ctx context.Context) error { return nil }

func (m *Mock) ReadData() ([]byte, error) {
	select {
	case frame := <-m.rxQueue:
		return frame, nil
	default:
		return nil, xerrors.New(xerrors.KindReception, "no frame available")
	}
}

func (m *Mock) GetRSSI() float32 { return m.rssi }
func (m *Mock) GetSNR() float32  { return m.snr }

func (m *Mock) GetTimeOnAir(payloadSize int) time.Duration {
	return time.Duration(payloadSize) * m.airTimePerByte
}

func (m *Mock) ScanChannel(ctx context.Context) (bool, error) {
	return len(m.rxQueue) > 0, nil
}

func (m *Mock) Standby() error { return nil }
func (m *Mock) Sleep() error   { return nil }

func (m *Mock) OnReceiveDone(fn func()) {
	m.onReceiveDone = fn
}
