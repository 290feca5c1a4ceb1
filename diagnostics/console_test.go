package diagnostics

import (
	"strings"
	"testing"

	"github.com/aethermesh/aethermesh/counters"
)

type fakeSource struct {
	snap                                                                  counters.Snapshot
	routingTableSize, sendQueueSize, receivedQueueSize, outbound, inbound int
}

func (f *fakeSource) Counters() counters.Snapshot { return f.snap }
func (f *fakeSource) RoutingTableSize() int        { return f.routingTableSize }
func (f *fakeSource) SendQueueSize() int            { return f.sendQueueSize }
func (f *fakeSource) ReceivedQueueSize() int         { return f.receivedQueueSize }
func (f *fakeSource) OutboundSequences() int         { return f.outbound }
func (f *fakeSource) InboundSequences() int          { return f.inbound }

func TestConsoleLineFormatsStats(t *testing.T) {
	src := &fakeSource{
		snap: counters.Snapshot{
			SentPackets:         12,
			ReceivedDataPackets: 9,
			DuplicatesDetected:  1,
			DestinyUnreachable:  2,
			SendErrors:          3,
		},
		routingTableSize: 4,
		sendQueueSize:    5,
		outbound:         1,
	}
	c := New(Config{Port: "/dev/ttyUSB0"}, src)

	line := c.line()
	for _, want := range []string{"rt=4", "send_q=5", "wsp=1", "sent=12", "recv=9", "dup=1", "unreachable=2", "errs=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestConsoleStartRequiresPort(t *testing.T) {
	c := New(Config{}, &fakeSource{})
	if err := c.Start(nil); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestConsoleNotConnectedBeforeStart(t *testing.T) {
	c := New(Config{Port: "/dev/ttyUSB0"}, &fakeSource{})
	if c.IsConnected() {
		t.Fatal("expected IsConnected() == false before Start")
	}
}
