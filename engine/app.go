package engine

import (
	"fmt"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/packet"
	"github.com/aethermesh/aethermesh/reliable"
)

// SendData sends a single-packet, best-effort DATA payload to dest (spec.md
// §6.3, send_data). The payload is truncated with a logged warning if it
// exceeds max_user_payload(DATA); callers needing guaranteed, arbitrarily
// large delivery should use SendReliable instead.
func (e *Engine) SendData(dest core.Address, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("engine: empty payload")
	}

	via := dest
	if !dest.IsBroadcast() {
		var ok bool
		via, ok = e.table.NextHop(dest)
		if !ok {
			e.counters.DestinyUnreachable.Add(1)
			return fmt.Errorf("engine: no route to %v", dest)
		}
	}

	id := e.nextPacketID()
	p := packet.NewData(e.log, e.cfg.MaxPacketSize, dest, e.local, via, codec.Data, id, payload)
	e.enqueueSend(p, reliable.DefaultPriority)
	return nil
}

// SendReliable begins a sequenced, ACKed, retransmitted delivery of payload
// to dest (spec.md §4.3, §6.3 send_reliable).
func (e *Engine) SendReliable(dest core.Address, payload []byte) error {
	return e.reliable.SendReliable(dest, payload)
}
