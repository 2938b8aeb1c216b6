// Package transport provides the per-peer duplex byte stream: a plain
// net.Conn (TCP or unix socket) wrapped with non-blocking, buffered,
// backpressure-aware sends and deferred/flushed-send callbacks. A
// write goroutine drains the queue while all received envelopes and
// completion callbacks post to the owning participant's executor.
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vectorgrp/sil-kit-sub003/internal/executor"
	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// DefaultHighWaterMark is the outbound queue byte size past which a
// peer is considered slow.
const DefaultHighWaterMark = 4 << 20 // 4 MiB

// Peer is one connected remote participant's duplex channel.
type Peer struct {
	name string
	conn net.Conn
	exec *executor.Executor
	log  logging.Logger
	met  *Metrics

	highWaterMark int

	mu          sync.Mutex
	sendQueue   [][]byte
	queuedBytes int
	slow        bool
	cond        *sync.Cond
	closed      bool

	// deliveredCbs tracks, for each OnAllMessagesDelivered registration,
	// how many total bytes must have been written before the callback
	// fires. Callbacks are delivered in registration order.
	enqueuedBytes int64
	writtenBytes  int64
	deliveredCbs  []deliveredCallback

	onReceive   func(wire.Envelope)
	onShutdown  []func(error)
	shutdownErr error
	once        sync.Once
}

type deliveredCallback struct {
	afterWritten int64
	fn           func()
}

// New wraps conn as a Peer. exec is the owning participant's I/O
// executor: all received envelopes and all delivered/shutdown
// callbacks are posted to it, so dispatch stays serialized with the
// rest of the participant's work.
func New(name string, conn net.Conn, exec *executor.Executor, log logging.Logger, met *Metrics) *Peer {
	if met == nil {
		met = NewMetrics(nil)
	}
	p := &Peer{
		name:          name,
		conn:          conn,
		exec:          exec,
		log:           log,
		met:           met,
		highWaterMark: DefaultHighWaterMark,
	}
	p.cond = sync.NewCond(&p.mu)
	met.PeersActive.Inc()
	go p.writeLoop()
	go p.readLoop()
	return p
}

// Name returns the remote participant name this peer represents.
func (p *Peer) Name() string { return p.name }

// OnReceive registers the callback invoked once per completely
// received envelope. Must be called before traffic is expected; only
// one receiver is supported per Peer, matching the 1:1
// peer-to-callback wiring the router relies on.
func (p *Peer) OnReceive(cb func(wire.Envelope)) {
	p.mu.Lock()
	p.onReceive = cb
	p.mu.Unlock()
}

// OnShutdown registers a callback invoked exactly once when this peer
// is considered dead, whether by I/O error or clean EOF.
func (p *Peer) OnShutdown(cb func(error)) {
	p.mu.Lock()
	p.onShutdown = append(p.onShutdown, cb)
	p.mu.Unlock()
}

// Send buffers env for transmission and returns immediately without
// blocking the caller.
func (p *Peer) Send(env wire.Envelope) error {
	buf := &bufWriter{}
	if err := wire.WriteEnvelope(buf, env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	p.sendQueue = append(p.sendQueue, buf.Bytes())
	p.queuedBytes += len(buf.Bytes())
	p.enqueuedBytes += int64(len(buf.Bytes()))
	if !p.slow && p.queuedBytes > p.highWaterMark {
		p.slow = true
		p.met.SlowPeers.Inc()
	}
	p.cond.Signal()
	return nil
}

// OnAllMessagesDelivered invokes cb once every byte enqueued up to
// this call has been observed as written by the OS. Registrations are
// delivered in order.
func (p *Peer) OnAllMessagesDelivered(cb func()) {
	p.mu.Lock()
	target := p.enqueuedBytes
	if p.writtenBytes >= target {
		p.mu.Unlock()
		p.postReceiveOrdered(cb)
		return
	}
	p.deliveredCbs = append(p.deliveredCbs, deliveredCallback{afterWritten: target, fn: cb})
	p.mu.Unlock()
}

// ExecuteDeferred posts fn to the transport's own execution context,
// the owning participant's executor, serializing it with I/O
// completions.
func (p *Peer) ExecuteDeferred(fn func()) {
	p.exec.Post(fn)
}

// FlushSendBuffers forces an immediate attempted flush of queued
// bytes.
func (p *Peer) FlushSendBuffers() {
	p.mu.Lock()
	p.cond.Signal()
	p.mu.Unlock()
}

// Slow reports whether the peer is currently over its high-water mark.
func (p *Peer) Slow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slow
}

// Close shuts the peer down for both directions. Safe to call more
// than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.conn.Close()
}

func (p *Peer) writeLoop() {
	for {
		p.mu.Lock()
		for len(p.sendQueue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.sendQueue) == 0 {
			p.mu.Unlock()
			return
		}
		batch := p.sendQueue
		p.sendQueue = nil
		p.mu.Unlock()

		for _, b := range batch {
			n, err := p.conn.Write(b)
			p.met.BytesSent.Add(float64(n))
			p.mu.Lock()
			p.queuedBytes -= len(b)
			if p.queuedBytes < 0 {
				p.queuedBytes = 0
			}
			p.writtenBytes += int64(n)
			if err != nil {
				p.mu.Unlock()
				p.fail(err)
				return
			}
			if p.slow && p.queuedBytes <= p.highWaterMark {
				p.slow = false
				p.met.SlowPeers.Dec()
			}
			p.fireDueCallbacksLocked()
			p.mu.Unlock()
		}
	}
}

// fireDueCallbacksLocked must be called with p.mu held.
func (p *Peer) fireDueCallbacksLocked() {
	i := 0
	for i < len(p.deliveredCbs) {
		cb := p.deliveredCbs[i]
		if p.writtenBytes < cb.afterWritten {
			break
		}
		i++
		p.postReceiveOrdered(cb.fn)
	}
	p.deliveredCbs = p.deliveredCbs[i:]
}

func (p *Peer) postReceiveOrdered(fn func()) {
	p.exec.Post(fn)
}

func (p *Peer) readLoop() {
	for {
		env, err := wire.ReadEnvelope(p.conn)
		if err != nil {
			p.fail(err)
			return
		}
		p.met.BytesReceived.Add(float64(len(env.Body) + 5))
		p.mu.Lock()
		cb := p.onReceive
		p.mu.Unlock()
		if cb != nil {
			e := env
			p.exec.Post(func() { cb(e) })
		}
	}
}

// fail marks the peer dead and raises the shutdown callbacks exactly
// once. A clean EOF is reported as a nil error so listeners can tell
// intentional exit from a crash.
func (p *Peer) fail(err error) {
	p.once.Do(func() {
		if err == io.EOF {
			err = nil
		}
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		handlers := p.onShutdown
		p.mu.Unlock()
		p.met.PeersActive.Dec()
		_ = p.conn.Close()
		for _, h := range handlers {
			handler := h
			p.exec.Post(func() { handler(err) })
		}
	})
}

// bufWriter is a tiny io.Writer accumulator, avoiding a bytes.Buffer
// import solely for Send's two small appends.
type bufWriter struct {
	b []byte
}

func (w *bufWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *bufWriter) Bytes() []byte { return w.b }

// DialTimeout is the default timeout applied when establishing a new
// outbound peer connection.
var DialTimeout = 5 * time.Second

// Dial opens a new outbound connection to addr, which is either
// "host:port" (TCP) or a filesystem path (local domain socket),
// disambiguated by local being true.
func Dial(ctx context.Context, addr string, local bool) (net.Conn, error) {
	network := "tcp"
	if local {
		network = "unix"
	}
	d := net.Dialer{Timeout: DialTimeout}
	return d.DialContext(ctx, network, addr)
}
