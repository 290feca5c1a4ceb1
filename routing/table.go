// Package routing implements the distance-vector routing table keyed by
// ETX (Expected Transmission Count): route storage, hello ingestion, the
// hysteresis-gated update policy, and insertion under table pressure.
//
// Grounded on the teacher's device/router/router.go routing-table shape
// (find/next-hop/size queries, timeout sweep) and core/contact/manager.go's
// neighbour-bookkeeping pattern, generalized to ETX-based metrics.
package routing

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
)

// ETX scale constants (spec.md §3.1). All values are ETX×10 fixed point.
const (
	ETXMin               = 10
	ETXMax               = 255
	Bootstrap            = 15
	BootstrapThreshold   = 50
	Unusable             = 200
	Hysteresis           = 1.1
	DecayThreshold       = 100
	DecayFactor          = 0.8
	MinSamples           = 3
	EvictionMargin       = 0 // not referenced by the table; the margin applied at eviction/insert comparisons is insertMargin (ETXMin)
)

// insertMargin is the "MIN" additive margin used in the eviction and
// multi-hop-acceptance comparisons of §4.2.3. The spec names it MIN without
// giving it a distinct value from ETXMin; this implementation treats the two
// as the same constant (documented in DESIGN.md).
const insertMargin = ETXMin

func clampETX(v int) uint8 {
	if v < ETXMin {
		return ETXMin
	}
	if v > ETXMax {
		return ETXMax
	}
	return uint8(v)
}

// RouteNode is one entry in the routing table (spec.md §3.1).
type RouteNode struct {
	Node codec.NetworkNode // address, ETX pair, role, hop_count
	Via  core.Address

	TimeoutMs uint64

	ReceivedSNR int8
	SentSNR     int8

	SRTTMs   uint32
	RTTVarMs uint32

	HellosExpected uint16
	HellosReceived uint16
}

// TotalETX returns the combined forward+reverse metric used for comparisons.
func (r *RouteNode) TotalETX() int {
	return int(r.Node.ReverseETX) + int(r.Node.ForwardETX)
}

// IsDirect reports whether this route is a one-hop neighbour.
func (r *RouteNode) IsDirect() bool {
	return r.Node.HopCount == 1 && r.Via == r.Node.Address
}

// TriggerHook is invoked whenever a route changes in a way that may warrant
// a triggered (out-of-cycle) hello — new route, strict improvement, or
// timeout deletion (spec.md §4.5). The hook itself (trigger.Controller)
// decides whether to actually schedule one.
type TriggerHook func(addr core.Address)

// Table is the routing table: a fixed-capacity collection of RouteNode
// indexed by destination address (spec.md §4.2).
type Table struct {
	mu      sync.Mutex
	logger  *slog.Logger
	local   core.Address
	maxSize int

	routes map[core.Address]*RouteNode

	onChange TriggerHook
	onEvict  TriggerHook
}

// Config configures a new Table.
type Config struct {
	Logger       *slog.Logger
	LocalAddress core.Address
	MaxSize      int // spec.md rt_max_size, default 256
	OnChange     TriggerHook
}

// New creates an empty routing table for the local node.
func New(cfg Config) *Table {
	max := cfg.MaxSize
	if max <= 0 {
		max = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:   logger.WithGroup("routing"),
		local:    cfg.LocalAddress,
		maxSize:  max,
		routes:   make(map[core.Address]*RouteNode),
		onChange: cfg.OnChange,
	}
}

// Size returns the number of active routes.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

// Find returns the RouteNode for addr, if any. The returned pointer must
// not be retained across a Table mutation; callers needing durable state
// should copy relevant fields (spec.md §5: "the routing table never holds
// pointers into packets; it copies relevant fields" applies symmetrically
// to callers holding onto RouteNode pointers).
func (t *Table) Find(addr core.Address) (*RouteNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[addr]
	return r, ok
}

// NextHop returns the next-hop address for dest, or false if unknown.
func (t *Table) NextHop(dest core.Address) (core.Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[dest]
	if !ok {
		return 0, false
	}
	return r.Via, true
}

// AllNetworkNodes returns a snapshot of every route's NetworkNode view,
// suitable for building a hello payload (spec.md §4.2, all_network_nodes).
func (t *Table) AllNetworkNodes() []codec.NetworkNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	nodes := make([]codec.NetworkNode, 0, len(t.routes))
	for _, r := range t.routes {
		nodes = append(nodes, r.Node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Address < nodes[j].Address })
	return nodes
}

// BestNodeByRole returns the route with minimum total ETX whose role
// satisfies role&mask == mask (spec.md §4.2.5).
func (t *Table) BestNodeByRole(mask core.Role) (*RouteNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *RouteNode
	for _, r := range t.routes {
		if !r.Node.Role.Has(mask) {
			continue
		}
		if best == nil || r.TotalETX() < best.TotalETX() {
			best = r
		}
	}
	return best, best != nil
}

// WorstRoute returns the entry with maximum total ETX, used only by
// insertion eviction (spec.md §4.2.5).
func (t *Table) WorstRoute() (*RouteNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.worstRouteLocked()
}

func (t *Table) worstRouteLocked() (*RouteNode, bool) {
	var worst *RouteNode
	for _, r := range t.routes {
		if worst == nil || r.TotalETX() > worst.TotalETX() {
			worst = r
		}
	}
	return worst, worst != nil
}

func (t *Table) maxTotalLocked() int {
	max := 0
	for _, r := range t.routes {
		if r.TotalETX() > max {
			max = r.TotalETX()
		}
	}
	return max
}

// ProcessRoute applies the route-update policy (spec.md §4.2.2) for a single
// candidate NetworkNode reached via via, as observed now (ms). It returns
// true if the route table changed in a way that should be offered to the
// trigger-update hook.
func (t *Table) ProcessRoute(via core.Address, candidate codec.NetworkNode, now, defaultTimeoutMs uint64) bool {
	if candidate.Address == t.local {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, exists := t.routes[candidate.Address]
	if !exists {
		return t.insertLocked(via, candidate, now, defaultTimeoutMs)
	}

	totalNew := int(candidate.ReverseETX) + int(candidate.ForwardETX)
	totalCur := cur.TotalETX()

	changed := false
	switch {
	case float64(totalNew) < float64(totalCur)/Hysteresis:
		cur.Node.ReverseETX = candidate.ReverseETX
		cur.Node.ForwardETX = candidate.ForwardETX
		cur.Node.HopCount = candidate.HopCount
		cur.Via = via
		cur.TimeoutMs = now + defaultTimeoutMs
		t.logger.Info("route improved", "addr", candidate.Address, "via", via, "total_new", totalNew, "total_old", totalCur)
		changed = true
	case totalNew <= int(float64(totalCur)*1.05):
		cur.TimeoutMs = now + defaultTimeoutMs
	case totalNew > Unusable:
		// let it age out; no timeout reset
	default:
		cur.TimeoutMs = now + defaultTimeoutMs
	}

	candidateDirect := candidate.HopCount == 1 && via == candidate.Address
	if via == cur.Via || candidateDirect {
		cur.Node.Role = candidate.Role
	}

	return changed
}

// insertLocked attempts to insert a brand-new destination, applying the
// table-pressure policy of §4.2.3. Caller holds t.mu.
func (t *Table) insertLocked(via core.Address, candidate codec.NetworkNode, now, defaultTimeoutMs uint64) bool {
	candidateTotal := int(candidate.ReverseETX) + int(candidate.ForwardETX)
	isDirect := candidate.HopCount == 1 && via == candidate.Address

	if len(t.routes) >= t.maxSize {
		worst, ok := t.worstRouteLocked()
		if !ok {
			return false
		}
		worstTotal := worst.TotalETX()
		if !isDirect && !(candidateTotal < worstTotal-insertMargin || worstTotal > Unusable) {
			t.logger.Debug("insert refused: table full", "addr", candidate.Address)
			return false
		}
		delete(t.routes, worst.Node.Address)
	}

	if !isDirect {
		ceiling := BootstrapThreshold
		if len(t.routes) > 0 {
			ceiling = t.maxTotalLocked() + insertMargin
		}
		if candidateTotal > ceiling {
			t.logger.Debug("insert refused: multi-hop ETX too high", "addr", candidate.Address, "total", candidateTotal, "ceiling", ceiling)
			return false
		}
	}

	r := &RouteNode{
		Node:      candidate,
		Via:       via,
		TimeoutMs: now + defaultTimeoutMs,
	}
	if isDirect {
		r.HellosExpected = 1
		r.HellosReceived = 1
	}
	t.routes[candidate.Address] = r
	t.logger.Info("route inserted", "addr", candidate.Address, "via", via, "total", candidateTotal, "direct", isDirect)
	return true
}

// EnsureDirectNeighbor records reception of a hello from a one-hop src,
// inserting a bootstrap entry if one doesn't exist yet, or bumping
// hello-received accounting if it does (spec.md §4.2.1 step 2).
func (t *Table) EnsureDirectNeighbor(src core.Address, now, defaultTimeoutMs uint64) *RouteNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[src]
	if ok && r.IsDirect() {
		r.HellosReceived++
		r.TimeoutMs = now + defaultTimeoutMs
		return r
	}

	r = &RouteNode{
		Node: codec.NetworkNode{
			Address:    src,
			ReverseETX: Bootstrap,
			ForwardETX: Bootstrap,
			HopCount:   1,
		},
		Via:            src,
		TimeoutMs:      now + defaultTimeoutMs,
		HellosExpected: 1,
		HellosReceived: 1,
	}
	t.routes[src] = r
	t.logger.Info("direct neighbor bootstrapped", "addr", src)
	return r
}

// ManageTimeouts removes every RouteNode whose TimeoutMs has elapsed,
// invoking the change hook for each eviction (spec.md §4.2.4).
func (t *Table) ManageTimeouts(now uint64) []core.Address {
	t.mu.Lock()
	var expired []core.Address
	for addr, r := range t.routes {
		if r.TimeoutMs < now {
			expired = append(expired, addr)
			delete(t.routes, addr)
		}
	}
	t.mu.Unlock()

	for _, addr := range expired {
		t.logger.Info("route expired", "addr", addr)
		if t.onChange != nil {
			t.onChange(addr)
		}
	}
	return expired
}

// UpdateExpectedHellos bumps hellos_expected for every direct neighbour and
// applies the decay rule, called immediately before assembling a periodic
// hello (spec.md §4.2.4).
func (t *Table) UpdateExpectedHellos() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.routes {
		if !r.IsDirect() {
			continue
		}
		r.HellosExpected++
		if r.HellosExpected >= DecayThreshold {
			r.HellosExpected = uint16(float64(r.HellosExpected) * DecayFactor)
			r.HellosReceived = uint16(float64(r.HellosReceived) * DecayFactor)
		}
	}
}

// RecomputeReverseETX updates a direct neighbour's reverse-ETX from its
// hello reception ratio, once enough samples exist (spec.md §4.2.1 step 4).
func (t *Table) RecomputeReverseETX(src core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[src]
	if !ok || r.HellosExpected < MinSamples {
		return
	}
	ratio := float64(r.HellosReceived) / float64(r.HellosExpected)
	if ratio <= 0 {
		r.Node.ReverseETX = ETXMax
		return
	}
	r.Node.ReverseETX = clampETX(int(round(10.0 / ratio)))
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}

// SetSNR records link metadata for a direct neighbour.
func (t *Table) SetSNR(addr core.Address, rssi, snr int8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[addr]; ok {
		r.ReceivedSNR = snr
		r.SentSNR = rssi
	}
}

// UpdateRTT folds one RTT sample into a route's SRTT/RTTVar state
// (spec.md §4.3.5, RFC 6298-style).
func (t *Table) UpdateRTT(addr core.Address, sampleMs uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[addr]
	if !ok {
		return
	}
	if r.SRTTMs == 0 {
		r.SRTTMs = sampleMs
		r.RTTVarMs = sampleMs / 2
		return
	}
	diff := int64(r.SRTTMs) - int64(sampleMs)
	if diff < 0 {
		diff = -diff
	}
	r.RTTVarMs = uint32((3*int64(r.RTTVarMs) + diff) / 4)
	r.SRTTMs = uint32((7*int64(r.SRTTMs) + int64(sampleMs)) / 8)
}
