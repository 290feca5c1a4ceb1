package reliable

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/core/clock"
	"github.com/aethermesh/aethermesh/packet"
	"github.com/aethermesh/aethermesh/routing"
)

// SendFunc enqueues a packet for transmission at the given priority
// (ToSendQueue, spec.md §3.1/§4.3.3).
type SendFunc func(p *codec.Packet, priority uint8)

// DeliverFunc hands a fully reassembled inbound message to the application
// queue (ReceivedAppQueue, spec.md §4.3.2 "Reassembly").
type DeliverFunc func(app *packet.AppPacket)

type seqKey struct {
	source core.Address
	seqID  uint8
}

// Transport owns Q_WSP (outbound) and Q_WRP (inbound), implementing
// send_reliable and the two sequence state machines of spec.md §4.3.
type Transport struct {
	mu sync.Mutex

	local         core.Address
	table         *routing.Table
	clock         clock.Source
	log           *slog.Logger
	maxPacketSize int
	defaultTimeoutS uint32

	send    SendFunc
	deliver DeliverFunc

	wsp map[uint8]*OutboundSequence
	wrp map[seqKey]*InboundSequence

	nextSeqID uint8
	nextPktID uint8

	destinyUnreachable func()
}

// Config configures a Transport.
type Config struct {
	Local           core.Address
	Table           *routing.Table
	Clock           clock.Source
	Logger          *slog.Logger
	MaxPacketSize   int
	DefaultTimeoutS uint32
	Send            SendFunc
	Deliver         DeliverFunc

	// OnDestinyUnreachable is invoked when send_reliable fails because the
	// destination has no route (spec.md §6.4 destiny_unreachable counter).
	OnDestinyUnreachable func()
}

// New creates a reliable Transport.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		local:              cfg.Local,
		table:              cfg.Table,
		clock:              cfg.Clock,
		log:                logger.WithGroup("reliable"),
		maxPacketSize:      cfg.MaxPacketSize,
		defaultTimeoutS:    cfg.DefaultTimeoutS,
		send:               cfg.Send,
		deliver:            cfg.Deliver,
		wsp:                make(map[uint8]*OutboundSequence),
		wrp:                make(map[seqKey]*InboundSequence),
		destinyUnreachable: cfg.OnDestinyUnreachable,
	}
}

// maxUserPayload returns the largest fragment payload for the combined
// NEED_ACK | XL_DATA fragment type (spec.md §4.3, "max_user_payload(NEED_ACK|XL_DATA)").
func (tr *Transport) maxUserPayload() int {
	return codec.MaxUserPayload(tr.maxPacketSize, codec.FragmentXL)
}

// SendReliable begins a sequenced delivery of payload to dest (spec.md
// §4.3, send_reliable).
func (tr *Transport) SendReliable(dest core.Address, payload []byte) error {
	if dest.IsBroadcast() {
		return fmt.Errorf("reliable: cannot send_reliable to broadcast")
	}
	if len(payload) == 0 {
		return fmt.Errorf("reliable: empty payload")
	}

	via, ok := tr.table.NextHop(dest)
	if !ok {
		if tr.destinyUnreachable != nil {
			tr.destinyUnreachable()
		}
		return fmt.Errorf("reliable: no route to %v", dest)
	}

	tr.mu.Lock()
	seqID := tr.nextSeqID
	tr.nextSeqID++
	tr.mu.Unlock()

	fragSize := tr.maxUserPayload()
	n := (len(payload) + fragSize - 1) / fragSize
	if n == 0 {
		n = 1
	}

	now := tr.clock.NowMs()
	seq := &OutboundSequence{
		SeqID:  seqID,
		Source: tr.local,
		Dest:   dest,
		Route:  via,
		NumPackets: uint16(n),
		State:  AwaitSyncAck,
	}
	seq.Fragments = make([]*codec.Packet, n+1) // index 0 = SYNC

	syncPkt := tr.newControlPacket(dest, via, codec.SyncXL, seqID, uint16(n), nil)
	seq.Fragments[0] = syncPkt

	for i := 1; i <= n; i++ {
		start := (i - 1) * fragSize
		end := start + fragSize
		if end > len(payload) {
			end = len(payload)
		}
		seq.Fragments[i] = tr.newControlPacket(dest, via, codec.FragmentXL, seqID, uint16(i), payload[start:end])
	}

	initialTimeout := tr.routeTimeoutMs(dest)
	seq.RTTStartMs = now
	seq.PreviousTimeoutMs = uint32(initialTimeout)
	seq.TimeoutMs = now + initialTimeout

	tr.mu.Lock()
	tr.wsp[seqID] = seq
	tr.mu.Unlock()

	tr.send(syncPkt, DefaultPriority)
	tr.log.Info("reliable send started", "seq_id", seqID, "dest", dest, "fragments", n)
	return nil
}

func (tr *Transport) routeTimeoutMs(addr core.Address) uint64 {
	r, ok := tr.table.Find(addr)
	if !ok {
		return uint64(tr.defaultTimeoutS) * 1000 * 4
	}
	return ComputeTimeoutMs(r.Node.HopCount, r.SRTTMs, r.RTTVarMs, tr.defaultTimeoutS)
}

func (tr *Transport) newControlPacket(dst, via core.Address, typ uint8, seqID uint8, number uint16, payload []byte) *codec.Packet {
	tr.mu.Lock()
	id := tr.nextPktID
	tr.nextPktID++
	tr.mu.Unlock()
	return packet.NewControl(tr.log, tr.maxPacketSize, dst, tr.local, via, typ, id, seqID, number, payload)
}

// HandleAck processes an ACK for fragment number k of seqID, arriving from
// src (spec.md §4.3.1).
func (tr *Transport) HandleAck(src core.Address, seqID uint8, k uint16) {
	tr.mu.Lock()
	seq, ok := tr.wsp[seqID]
	tr.mu.Unlock()
	if !ok {
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if k < seq.LastAck {
		return // duplicate
	}
	if k == seq.NumPackets {
		delete(tr.wsp, seqID)
		seq.State = Done
		tr.log.Info("reliable sequence complete", "seq_id", seqID, "dest", seq.Dest)
		return
	}

	seq.FirstAckReceived = true
	seq.LastAck = k
	sample := uint32(tr.clock.NowMs() - seq.RTTStartMs)
	tr.table.UpdateRTT(seq.Dest, sample)
	duration := tr.routeTimeoutMs(seq.Dest)
	seq.PreviousTimeoutMs = uint32(duration)
	seq.TimeoutMs = tr.clock.NowMs() + duration
	seq.State = SendingFragments

	next := k + 1
	if int(next) < len(seq.Fragments) {
		tr.send(seq.Fragments[next], DefaultPriority)
	}
	_ = src
}

// HandleLost processes a LOST (negative-ack) for fragment number k of
// seqID, re-enqueuing that fragment (spec.md §4.3.1).
func (tr *Transport) HandleLost(src core.Address, seqID uint8, k uint16) {
	tr.mu.Lock()
	seq, ok := tr.wsp[seqID]
	tr.mu.Unlock()
	if !ok || int(k) >= len(seq.Fragments) {
		return
	}
	tr.mu.Lock()
	duration := tr.routeTimeoutMs(seq.Dest)
	seq.PreviousTimeoutMs = uint32(duration)
	seq.TimeoutMs = tr.clock.NowMs() + duration
	tr.mu.Unlock()
	tr.send(seq.Fragments[k], DefaultPriority)
	_ = src
}

// HandleSync processes an inbound SYNC (fragment 0), creating a new
// inbound sequence if one doesn't already exist (spec.md §4.3.2).
func (tr *Transport) HandleSync(src core.Address, via core.Address, seqID uint8, numPackets uint16) {
	key := seqKey{source: src, seqID: seqID}

	tr.mu.Lock()
	if _, exists := tr.wrp[key]; exists {
		tr.mu.Unlock()
		return
	}
	now := tr.clock.NowMs()
	duration := tr.routeTimeoutMs(src)
	seq := &InboundSequence{
		SeqID:             seqID,
		Source:            src,
		NumPackets:        numPackets,
		RTTStartMs:        now,
		PreviousTimeoutMs: uint32(duration),
		TimeoutMs:         now + duration,
		Fragments:         make([][]byte, numPackets+1),
	}
	tr.wrp[key] = seq
	tr.mu.Unlock()

	ack := tr.newControlPacket(src, via, codec.Ack, seqID, 0, nil)
	tr.send(ack, DefaultPriority+AckPriorityDelta)
	tr.log.Info("inbound sequence started", "seq_id", seqID, "src", src, "fragments", numPackets)
}

// HandleFragment processes an inbound data fragment k of seqID from src,
// via the next-hop via (spec.md §4.3.2).
func (tr *Transport) HandleFragment(src, via core.Address, seqID uint8, k uint16, payload []byte) {
	key := seqKey{source: src, seqID: seqID}

	tr.mu.Lock()
	seq, ok := tr.wrp[key]
	if !ok {
		tr.mu.Unlock()
		return
	}

	if k != seq.LastAck+1 {
		tr.mu.Unlock()
		lost := tr.newControlPacket(src, via, codec.Lost, seqID, seq.LastAck+1, nil)
		tr.send(lost, DefaultPriority+LostPriorityDelta)
		return
	}

	seq.Fragments[k] = payload
	seq.LastAck = k
	sample := uint32(tr.clock.NowMs() - seq.RTTStartMs)
	tr.table.UpdateRTT(src, sample)
	duration := tr.routeTimeoutMs(src)
	seq.PreviousTimeoutMs = uint32(duration)
	seq.TimeoutMs = tr.clock.NowMs() + duration

	complete := k == seq.NumPackets
	tr.mu.Unlock()

	ack := tr.newControlPacket(src, via, codec.Ack, seqID, k, nil)
	tr.send(ack, DefaultPriority+AckPriorityDelta)

	if complete {
		tr.mu.Lock()
		delete(tr.wrp, key)
		tr.mu.Unlock()

		app := packet.FromReassembled(tr.local, src, seq.Fragments[1:])
		if tr.deliver != nil {
			tr.deliver(app)
		}
		tr.log.Info("reliable reassembly complete", "seq_id", seqID, "src", src, "bytes", app.PayloadSize())
	}
}

// TickTimeouts walks Q_WSP and Q_WRP, applying the retry/abandon logic of
// spec.md §4.3.1/§4.3.2 for any sequence whose timeout has elapsed. It is
// driven periodically by the queue manager (spec.md §4.4.3).
func (tr *Transport) TickTimeouts(now uint64, sendQueueLen int) {
	tr.mu.Lock()
	var outExpired, inExpired []uint8
	for id, seq := range tr.wsp {
		if seq.TimeoutMs < now {
			outExpired = append(outExpired, id)
		}
	}
	for key := range tr.wrp {
		if tr.wrp[key].TimeoutMs < now {
			inExpired = append(inExpired, key.seqID)
		}
	}
	tr.mu.Unlock()

	for _, id := range outExpired {
		tr.tickOutbound(id, now, sendQueueLen)
	}
	for _, id := range inExpired {
		tr.tickInbound(id, now, sendQueueLen)
	}
}

func (tr *Transport) tickOutbound(seqID uint8, now uint64, sendQueueLen int) {
	tr.mu.Lock()
	seq, ok := tr.wsp[seqID]
	if !ok {
		tr.mu.Unlock()
		return
	}
	seq.NTimeouts++
	if seq.NTimeouts >= MaxTimeouts {
		delete(tr.wsp, seqID)
		seq.State = Failed
		tr.mu.Unlock()
		tr.log.Warn("reliable sequence abandoned", "seq_id", seqID, "dest", seq.Dest)
		return
	}

	hops := uint8(1)
	if r, ok := tr.table.Find(seq.Dest); ok {
		hops = r.Node.HopCount
	}
	newTimeout := RecomputeTimeoutOnRetry(uint64(seq.PreviousTimeoutMs), sendQueueLen, hops, tr.defaultTimeoutS)
	seq.PreviousTimeoutMs = uint32(newTimeout)
	seq.TimeoutMs = now + newTimeout
	resend := seq.Fragments[0]
	if seq.FirstAckReceived {
		resend = nil
	}
	tr.mu.Unlock()

	if resend != nil {
		tr.send(resend, MaxPriority)
	}
}

func (tr *Transport) tickInbound(seqID uint8, now uint64, sendQueueLen int) {
	tr.mu.Lock()
	var found *InboundSequence
	var key seqKey
	for k, s := range tr.wrp {
		if k.seqID == seqID {
			found = s
			key = k
			break
		}
	}
	if found == nil {
		tr.mu.Unlock()
		return
	}
	found.NTimeouts++
	if found.NTimeouts >= MaxTimeouts {
		delete(tr.wrp, key)
		tr.mu.Unlock()
		tr.log.Warn("inbound sequence abandoned", "seq_id", seqID, "src", key.source)
		return
	}
	hops := uint8(1)
	if r, ok := tr.table.Find(key.source); ok {
		hops = r.Node.HopCount
	}
	newTimeout := RecomputeTimeoutOnRetry(uint64(found.PreviousTimeoutMs), sendQueueLen, hops, tr.defaultTimeoutS)
	found.PreviousTimeoutMs = uint32(newTimeout)
	found.TimeoutMs = now + newTimeout
	missing := found.LastAck + 1
	tr.mu.Unlock()

	via, ok := tr.table.NextHop(key.source)
	if !ok {
		return
	}
	lost := tr.newControlPacket(key.source, via, codec.Lost, seqID, missing, nil)
	tr.send(lost, DefaultPriority+LostPriorityDelta)
}

// WSPSize returns the number of active outbound sequences.
func (tr *Transport) WSPSize() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.wsp)
}

// WRPSize returns the number of active inbound sequences.
func (tr *Transport) WRPSize() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.wrp)
}
