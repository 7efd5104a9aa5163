// Package meshtcp is a reference Transport provider. It emulates a
// broadcast-only mesh over plain TCP: every node listens on one address,
// "broadcast" fans out to per-peer pooled connections, membership is hello
// liveness and the shared logical clock is a wrapping microsecond counter
// nudged toward lower-ID peers.
package meshtcp

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silenceper/pool"
	"github.com/ugorji/go/codec"
	"golang.org/x/sync/errgroup"

	"github.com/glowmesh/glowmesh/pkg/model"
)

const (
	// initial capacity of a peer pool
	poolInitCap = 0
	// maximum number of idle connections in a peer pool
	poolMaxIdle = 2
	// maximum time a connection can be idle before being closed
	poolMaxIdleTime = 15
	// maximum number of connections in a peer pool
	poolMaxCap = 4
)

// envelope frame kinds
const (
	kindHello uint8 = iota + 1
	kindData
)

// envelope is the wire frame between mesh nodes. Hello frames carry only
// the sender's clock; data frames carry an opaque coordination payload.
type envelope struct {
	Kind    uint8  `codec:"kind"`
	From    uint32 `codec:"from"`
	Time    uint32 `codec:"time"`
	Payload []byte `codec:"payload,omitempty"`
}

var msgpackHandle = &codec.MsgpackHandle{}

// NewTransport creates a mesh transport. The node ID is derived from the
// listen address, so it is stable across restarts of the same node.
func NewTransport(cfg *Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		return nil, fmt.Errorf("new mesh transport, logger is nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("new mesh transport, config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "meshtcp"),
		self:     deriveID(cfg.ListenAddress),
		epoch:    time.Now(),
		lastSeen: map[model.NodeID]time.Time{},
	}
	return t, nil
}

type Transport struct {
	cfg    *Config
	logger *slog.Logger

	// self is the node id derived from the listen address
	self model.NodeID
	// epoch anchors the local microsecond counter
	epoch time.Time
	// clockOffset is the loose-sync adjustment in microseconds
	clockOffset atomic.Int64
	// resyncPending makes the next authority hello snap the clock
	// instead of nudging it
	resyncPending atomic.Bool

	mu sync.Mutex
	// listener accepts peer connections while attached
	listener net.Listener
	// pools maps peer address to its connection pool
	pools map[string]pool.Pool
	// lastSeen maps peer id to the arrival time of its latest hello
	lastSeen map[model.NodeID]time.Time
	// shutdown stops the hello and prune loops
	shutdown chan struct{}
	started  bool

	onMembership func()
	onReceive    func(from model.NodeID, payload []byte)
}

// deriveID hashes a listen address into a node ID, avoiding the sentinel.
func deriveID(address string) model.NodeID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	id := model.NodeID(h.Sum32())
	if !id.Valid() {
		id = 1
	}
	return id
}

// Start brings the transport up: listener, peer pools, hello loop.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("mesh transport already started")
	}

	l, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("mesh transport listen: %w", err)
	}
	t.listener = l
	t.pools = map[string]pool.Pool{}
	for _, peer := range t.cfg.Peers {
		p, err := t.createPool(peer)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("mesh transport pool for %s: %w", peer, err)
		}
		t.pools[peer] = p
	}
	t.shutdown = make(chan struct{})
	t.started = true

	go t.acceptLoop(l)
	go t.helloLoop(t.shutdown)
	go t.pruneLoop(t.shutdown)

	t.logger.Info("mesh transport started", "listen", t.cfg.ListenAddress, "self", t.self)
	return nil
}

// Stop tears the transport down. Peers will age out of the remote
// membership views once hellos stop.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Transport) stopLocked() {
	if !t.started {
		return
	}
	close(t.shutdown)
	if t.listener != nil {
		_ = t.listener.Close()
		t.listener = nil
	}
	for _, p := range t.pools {
		p.Release()
	}
	t.pools = nil
	t.started = false
	t.logger.Info("mesh transport stopped")
}

// SelfID returns the identifier of the local node.
func (t *Transport) SelfID() model.NodeID {
	return t.self
}

// Membership returns the peers whose hello was seen within the peer
// timeout. The snapshot fully replaces any previous view.
func (t *Transport) Membership() []model.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.cfg.PeerTimeout)
	out := make([]model.NodeID, 0, len(t.lastSeen))
	for id, seen := range t.lastSeen {
		if seen.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Broadcast fans the payload out to every configured peer concurrently.
// Per-peer failures are logged, not returned; delivery is best effort.
func (t *Transport) Broadcast(payload []byte) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return fmt.Errorf("mesh transport not started")
	}
	pools := make(map[string]pool.Pool, len(t.pools))
	for addr, p := range t.pools {
		pools[addr] = p
	}
	t.mu.Unlock()

	env := &envelope{
		Kind:    kindData,
		From:    uint32(t.self),
		Time:    t.NodeTime(),
		Payload: payload,
	}
	t.fanout(pools, env)
	return nil
}

func (t *Transport) fanout(pools map[string]pool.Pool, env *envelope) {
	g := errgroup.Group{}
	for addr, p := range pools {
		addr, p := addr, p
		g.Go(func() error {
			if err := t.sendEnvelope(p, env); err != nil {
				t.logger.Debug("send to peer failed", "peer", addr, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (t *Transport) sendEnvelope(p pool.Pool, env *envelope) error {
	v, err := p.Get()
	if err != nil {
		return err
	}
	conn := v.(net.Conn)

	if err := codec.NewEncoder(conn, msgpackHandle).Encode(env); err != nil {
		_ = p.Close(v)
		return err
	}
	return p.Put(v)
}

// NodeTime returns the shared logical clock reading: a wrapping uint32
// microsecond counter plus the loose-sync offset.
func (t *Transport) NodeTime() uint32 {
	local := time.Since(t.epoch).Microseconds()
	return uint32(local + t.clockOffset.Load())
}

// OnMembershipChanged registers the membership-change callback.
func (t *Transport) OnMembershipChanged(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMembership = fn
}

// OnReceive registers the payload callback.
func (t *Transport) OnReceive(fn func(from model.NodeID, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReceive = fn
}

// Attached reports whether the listener is up.
func (t *Transport) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && t.listener != nil
}

// Reinitialize tears the transport down and starts it again. Registered
// callbacks survive the restart.
func (t *Transport) Reinitialize() error {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()

	return t.Start()
}

// ResyncClock makes the next hello from a clock authority snap the local
// offset instead of nudging it.
func (t *Transport) ResyncClock() {
	t.resyncPending.Store(true)
	t.logger.Info("clock resync requested")
}

func (t *Transport) createPool(address string) (pool.Pool, error) {
	poolConfig := &pool.Config{
		InitialCap:  poolInitCap,
		MaxIdle:     poolMaxIdle,
		MaxCap:      poolMaxCap,
		IdleTimeout: poolMaxIdleTime * time.Second,
		Factory: func() (interface{}, error) {
			dialer := &net.Dialer{Timeout: t.cfg.ConnectTimeout}
			return dialer.Dial("tcp", address)
		},
		Close: func(v interface{}) error { return v.(net.Conn).Close() },
	}
	return pool.NewChannelPool(poolConfig)
}

func (t *Transport) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			// listener closed on Stop/Reinitialize
			t.logger.Debug("accept loop ended", "error", err.Error())
			return
		}
		go t.serveConn(conn)
	}
}

func (t *Transport) serveConn(conn net.Conn) {
	defer conn.Close()

	dec := codec.NewDecoder(conn, msgpackHandle)
	for {
		env := &envelope{}
		if err := dec.Decode(env); err != nil {
			return
		}

		from := model.NodeID(env.From)
		if !from.Valid() || from == t.self {
			continue
		}

		switch env.Kind {
		case kindHello:
			t.observeHello(from, env.Time)
		case kindData:
			t.observeHello(from, env.Time)
			t.mu.Lock()
			onReceive := t.onReceive
			t.mu.Unlock()
			if onReceive != nil {
				onReceive(from, env.Payload)
			}
		}
	}
}

// observeHello refreshes the peer's liveness and nudges the local clock
// toward lower-ID peers, which keeps the whole mesh loosely agreeing on
// the node time the same way it agrees on the leader.
func (t *Transport) observeHello(from model.NodeID, remoteTime uint32) {
	t.mu.Lock()
	_, known := t.lastSeen[from]
	t.lastSeen[from] = time.Now()
	onMembership := t.onMembership
	t.mu.Unlock()

	if from < t.self {
		t.adjustClock(remoteTime)
	}
	if !known && onMembership != nil {
		onMembership()
	}
}

func (t *Transport) adjustClock(remoteTime uint32) {
	diff := int64(int32(remoteTime - t.NodeTime()))
	if t.resyncPending.CompareAndSwap(true, false) {
		t.clockOffset.Add(diff)
		t.logger.Info("clock resynced", "offset_us", diff)
		return
	}
	// halve the step so jitter cannot swing the clock around
	t.clockOffset.Add(diff / 2)
}

func (t *Transport) helloLoop(shutdown chan struct{}) {
	tk := time.NewTicker(t.cfg.HelloInterval)
	defer tk.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-tk.C:
		}

		t.mu.Lock()
		if !t.started {
			t.mu.Unlock()
			return
		}
		pools := make(map[string]pool.Pool, len(t.pools))
		for addr, p := range t.pools {
			pools[addr] = p
		}
		t.mu.Unlock()

		t.fanout(pools, &envelope{
			Kind: kindHello,
			From: uint32(t.self),
			Time: t.NodeTime(),
		})
	}
}

// pruneLoop expires silent peers and fires the membership callback on
// every expiry, so the coordination layer re-elects promptly.
func (t *Transport) pruneLoop(shutdown chan struct{}) {
	tk := time.NewTicker(t.cfg.PeerTimeout / 2)
	defer tk.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-tk.C:
		}

		t.mu.Lock()
		cutoff := time.Now().Add(-t.cfg.PeerTimeout)
		expired := false
		for id, seen := range t.lastSeen {
			if !seen.After(cutoff) {
				delete(t.lastSeen, id)
				expired = true
			}
		}
		onMembership := t.onMembership
		t.mu.Unlock()

		if expired {
			t.logger.Info("peer expired from membership")
			if onMembership != nil {
				onMembership()
			}
		}
	}
}
