package engine

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/packet"
	"github.com/aethermesh/aethermesh/reliable"
	"github.com/aethermesh/aethermesh/routing"
	"github.com/aethermesh/aethermesh/xerrors"
)

// Scheduler priorities and limits (spec.md §4.4, §4.4.2).
const (
	maxTryBeforeSend = 5
	maxResendPacket  = 3

	queueManagerInterval = 20 * time.Second // MIN_TIMEOUT floor, spec.md §6.2
)

// Start resumes the six cooperating tasks (spec.md §4.4) and triggers the
// first receive. Blocks until ctx is cancelled or a task returns an error;
// call Stop to tear down early.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	eg, gctx := errgroup.WithContext(ctx)
	e.eg = eg
	e.mu.Unlock()

	e.state.Store(int32(Starting))

	eg.Go(func() error { e.receiveTask(gctx); return nil })
	eg.Go(func() error { e.processTask(gctx); return nil })
	eg.Go(func() error { e.sendTask(gctx); return nil })
	eg.Go(func() error { e.helloTask(gctx); return nil })
	eg.Go(func() error { e.routingMgr.Start(gctx); return nil })
	eg.Go(func() error { e.queueManagerTask(gctx); return nil })

	e.state.Store(int32(Running))
	if e.radio != nil {
		_ = e.radio.StartReceive(gctx)
	}
	select {
	case e.notifyReceive <- struct{}{}:
	default:
	}

	err := eg.Wait()
	e.state.Store(int32(Stopped))
	return err
}

// Stop cancels every running task; it does not wait for them to exit
// (Start returns once they have).
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.routingMgr.Stop()
}

// receiveTask is the receive-ISR handoff task (spec.md §4.4.1): on a
// receive-done notification, reads the frame out of the radio, annotates
// link metadata, enqueues it for processing, and re-arms receive.
func (e *Engine) receiveTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notifyReceive:
			e.drainReceive(ctx)
		}
	}
}

func (e *Engine) drainReceive(ctx context.Context) {
	if e.radio == nil {
		return
	}
	for {
		frame, err := e.radio.ReadData()
		if err != nil {
			return
		}
		if len(frame) > e.cfg.MaxPacketSize {
			e.log.Warn("received frame exceeds max_packet_size, truncating", "size", len(frame))
			frame = frame[:e.cfg.MaxPacketSize]
		}
		p, err := codec.Decode(frame)
		if err != nil {
			e.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		p.RSSI = e.radio.GetRSSI()
		p.SNR = e.radio.GetSNR()

		if _, evicted := e.received.Push(p, 0); evicted {
			e.log.Warn("received_queue full, dropped newest lowest-priority entry")
		}
		select {
		case e.notifyProcess <- struct{}{}:
		default:
		}
		_ = e.radio.StartReceive(ctx)
	}
}

// processTask is the process-received task (spec.md §4.4.1, §4.2.1,
// §4.3.1-2): classifies each received packet and dispatches it to routing,
// reliable transport, or direct application delivery.
func (e *Engine) processTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notifyProcess:
			for {
				p, ok := e.received.Pop()
				if !ok {
					break
				}
				e.handleReceived(p)
			}
		}
	}
}

// handleReceived dispatches a decoded packet. HELLO is handled directly
// (it has no dst/via header); every other data-family packet is gated on
// destination before its type is examined (original_source/LoraMesher.cpp
// processDataPacket:663): only a packet addressed to me, or broadcast, is
// fed to the reliable/ack machinery or the application queue. A packet
// whose via names me is forwarded, not consumed; anything else is dropped.
// Dispatching by type first would make a relay swallow ACK/LOST/SYNC/
// fragment traffic addressed past it instead of forwarding it.
func (e *Engine) handleReceived(p *codec.Packet) {
	now := int64(e.clock.NowMs())
	e.counters.ReceivedControlBytes.Add(uint32(codec.HeaderSize(p.Type)))
	if codec.IsHello(p.Type) {
		e.counters.ReceivedHelloPackets.Add(1)
		e.handleHello(p, now)
		return
	}
	e.handleDataFamily(p, now)
}

func (e *Engine) handleDataFamily(p *codec.Packet, now int64) {
	e.counters.ReceivedDataPackets.Add(1)
	e.counters.ReceivedPayloadBytes.Add(uint32(len(p.Payload)))

	switch {
	case p.Dst == e.local:
		e.counters.DataPacketForMe.Add(1)
		e.dispatchForMe(p, now)
	case p.Dst.IsBroadcast():
		e.counters.DataPacketForMe.Add(1)
		e.counters.ReceivedBroadcastPackets.Add(1)
		e.dispatchForMe(p, now)
	case p.Data.Via == e.local:
		e.counters.ReceivedIAmVia.Add(1)
		e.forwardData(p)
	default:
		e.counters.ReceivedNotForMe.Add(1)
	}
}

// dispatchForMe sub-dispatches a packet already known to be addressed to
// this node (dst==local or broadcast) by type, mirroring
// processDataPacketForMe's ack/lost/sync/fragment/data branches.
func (e *Engine) dispatchForMe(p *codec.Packet, now int64) {
	switch {
	case codec.IsAck(p.Type):
		e.reliable.HandleAck(p.Src, p.Control.SeqID, p.Control.Number)
	case codec.IsLost(p.Type):
		e.reliable.HandleLost(p.Src, p.Control.SeqID, p.Control.Number)
	case codec.IsSync(p.Type):
		e.reliable.HandleSync(p.Src, e.returnPathVia(p.Src), p.Control.SeqID, p.Control.Number)
	case codec.IsControl(p.Type):
		e.reliable.HandleFragment(p.Src, e.returnPathVia(p.Src), p.Control.SeqID, p.Control.Number, p.Payload)
	case codec.IsOnlyData(p.Type):
		app := packet.FromSinglePacket(p)
		e.receivedApp.Push(app, 0)
	}
}

// forwardData relays a packet whose via names this node (received_i_am_via,
// LoraMesher.cpp:685) towards its next hop; a route miss here is
// received_not_for_me, same as the original's "no route" drop.
func (e *Engine) forwardData(p *codec.Packet) {
	via, ok := e.table.NextHop(p.Dst)
	if !ok {
		e.counters.ReceivedNotForMe.Add(1)
		return
	}
	p.Data.Via = via
	e.counters.ForwardedPackets.Add(1)
	e.enqueueSend(p, reliable.DefaultPriority)
}

// handleHello ingests a HELLO per spec.md §4.2.1.
func (e *Engine) handleHello(p *codec.Packet, now int64) {
	if e.dedup.Seen(p.Src, p.ID, now) {
		e.counters.DuplicatesDetected.Add(1)
		return
	}

	defaultTimeoutMs := uint64(e.cfg.DefaultTimeout.Milliseconds())
	neighbor := e.table.EnsureDirectNeighbor(p.Src, uint64(now), defaultTimeoutMs)
	neighbor.ReceivedSNR = int8(p.SNR)
	e.table.RecomputeReverseETX(p.Src)

	senderReverse := neighbor.Node.ReverseETX
	senderForward := uint8(routing.Bootstrap)

	records := codec.DecodeNetworkNodes(p.Payload)
	for _, rec := range records {
		if rec.Address == e.local && rec.HopCount == 1 {
			senderForward = rec.ReverseETX
		}
	}

	for _, rec := range records {
		if rec.Address == p.Src || rec.Address == e.local {
			continue
		}
		candidate := rec
		candidate.ReverseETX = clampAddETX(candidate.ReverseETX, senderReverse)
		candidate.ForwardETX = clampAddETX(candidate.ForwardETX, senderForward)
		candidate.HopCount++

		if e.table.ProcessRoute(p.Src, candidate, uint64(now), defaultTimeoutMs) {
			e.onRouteChange(candidate.Address)
		}
	}
}

// returnPathVia resolves the next hop back toward src for building an
// ACK/LOST reply, falling back to src itself if the route isn't yet known
// (src is, at minimum, the packet's immediate sender on a one-hop link).
func (e *Engine) returnPathVia(src core.Address) core.Address {
	if via, ok := e.table.NextHop(src); ok {
		return via
	}
	return src
}

func clampAddETX(a, b uint8) uint8 {
	sum := int(a) + int(b)
	if sum > routing.ETXMax {
		return routing.ETXMax
	}
	return uint8(sum)
}

// sendTask is the send loop (spec.md §4.4.2): pops entries from ToSendQueue,
// performs carrier-sense backoff, transmits, and paces to the duty cycle.
func (e *Engine) sendTask(ctx context.Context) {
	limiter := newDutyCycleLimiter(e.cfg.DutyCyclePct)
	ticker := time.NewTicker(30 * time.Second) // periodic wake per spec.md §4.4 task table
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notifySend:
			e.drainSend(ctx, limiter)
		case <-ticker.C:
			e.drainSend(ctx, limiter)
		}
	}
}

func (e *Engine) drainSend(ctx context.Context, limiter *rate.Limiter) {
	for {
		p, ok := e.toSend.Pop()
		if !ok {
			return
		}
		if p.Src == e.local && p.ID == 0 {
			p.ID = e.nextPacketID()
		}
		e.transmitWithBackoff(ctx, p, limiter)
	}
}

func (e *Engine) transmitWithBackoff(ctx context.Context, p *codec.Packet, limiter *rate.Limiter) {
	if e.radio == nil {
		return
	}
	onAir := e.radio.GetTimeOnAir(e.cfg.MaxPacketSize)

	for attempt := 0; attempt < maxTryBeforeSend; attempt++ {
		lo := 2 * onAir
		hi := 4*onAir + time.Duration(attempt)*100*time.Millisecond
		backoff := lo
		if hi > lo {
			backoff += time.Duration(rand.Int63n(int64(hi - lo)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		busy, err := e.radio.ScanChannel(ctx)
		if err != nil || !busy {
			break
		}
		_ = e.radio.StartReceive(ctx)
	}

	frame, err := p.Encode(e.cfg.MaxPacketSize)
	if err != nil {
		e.log.Error("encode failed, dropping packet", "error", err)
		e.counters.SendErrors.Add(1)
		return
	}

	if err := e.radio.Transmit(ctx, frame); err != nil {
		e.counters.SendErrors.Add(1)
		if xerrors.Is(err, xerrors.KindTransmission) {
			e.log.Warn("transmit failed", "error", err)
		}
		return
	}

	e.counters.SentPackets.Add(1)
	e.counters.SentControlBytes.Add(uint32(codec.HeaderSize(p.Type)))
	e.counters.SentPayloadBytes.Add(uint32(len(p.Payload)))
	_ = e.radio.StartReceive(ctx)

	pacedFor := time.Duration(float64(onAir) * float64(100-e.cfg.DutyCyclePct) / 100)
	if pacedFor > 0 {
		tokens := int(float64(pacedFor/time.Millisecond) * float64(limiter.Limit()) / 1000)
		if tokens < 1 {
			tokens = 1
		}
		_ = limiter.WaitN(ctx, tokens)
	}
}

// newDutyCycleLimiter builds a token-bucket limiter (burst 1000) refilling
// at dutyCyclePct/100 tokens per millisecond of wall-clock time;
// transmitWithBackoff requests the paced duration in ms times that rate, so
// each paced wait costs the paced duration once the burst is spent. This
// replaces a hand-rolled sleep loop with golang.org/x/time/rate
// (SPEC_FULL.md §4, enrichment from the Lzww0608-AetherFlow example).
func newDutyCycleLimiter(dutyCyclePct int) *rate.Limiter {
	if dutyCyclePct <= 0 {
		dutyCyclePct = 1
	}
	r := rate.Limit(float64(dutyCyclePct) / 100.0 * 1000.0)
	return rate.NewLimiter(r, 1000)
}

// helloTask periodically assembles and enqueues a hello packet (spec.md
// §4.2.4). Out-of-phase hellos triggered by route changes go through
// scheduleHello directly from onRouteChange; this loop drives the regular
// HELLO_PACKETS_DELAY cadence.
func (e *Engine) helloTask(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HelloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.table.UpdateExpectedHellos()
			e.scheduleHello()
		}
	}
}

// queueManagerTask drives Q_WSP/Q_WRP timeout processing (spec.md §4.4.3).
func (e *Engine) queueManagerTask(ctx context.Context) {
	ticker := time.NewTicker(queueManagerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notifyQueue:
			e.reliable.TickTimeouts(e.clock.NowMs(), e.toSend.Len())
		case <-ticker.C:
			e.reliable.TickTimeouts(e.clock.NowMs(), e.toSend.Len())
		}
	}
}
