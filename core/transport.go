package core

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// SendResult is the outcome of a single Handle.Send call.
type SendResult int

const (
	// SendOK means the transport accepted the datagram for delivery.
	SendOK SendResult = iota
	// SendTimeout means the configured deadline elapsed before the
	// transport reported completion.
	SendTimeout
	// SendTransportErr means the transport reported a failure (unreachable,
	// reset, handshake failure).
	SendTransportErr
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendTimeout:
		return "timeout"
	default:
		return "transport_err"
	}
}

// Handle is a reusable send endpoint bound to one destination address. It
// wraps a lazily established QUIC connection using the unreliable-datagram
// extension, which models the connectionless, datagram-oriented encrypted
// transport spec.md §4.1 calls for: a single payload send with no ordering
// or delivery guarantee across calls.
type Handle struct {
	addr string
	pool *TransportPool

	mu       sync.Mutex
	conn     *quic.Conn
	lastUsed time.Time
}

// TransportPool caches one Handle per destination address so that session
// setup (the QUIC handshake) is amortized across sends. Grounded on
// core/connection_pool.go's Dialer/ConnPool/reaper shape, generalized from
// pooled net.Conn-over-TCP to pooled QUIC datagram connections.
type TransportPool struct {
	dialTimeout time.Duration
	idleTTL     time.Duration
	tlsConf     *tls.Config
	quicConf    *quic.Config

	mu      sync.Mutex
	handles map[string]*Handle

	closing   chan struct{}
	closeOnce sync.Once
}

// NewTransportPool creates a pool dialing with dialTimeout per connection
// attempt and reaping connections idle longer than idleTTL.
func NewTransportPool(dialTimeout, idleTTL time.Duration) *TransportPool {
	p := &TransportPool{
		dialTimeout: dialTimeout,
		idleTTL:     idleTTL,
		tlsConf: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{"p3-txn-sender"},
		},
		quicConf: &quic.Config{
			EnableDatagrams: true,
			MaxIdleTimeout:  idleTTL,
		},
		handles: make(map[string]*Handle),
		closing: make(chan struct{}),
	}
	go p.reaper()
	return p
}

// ConnectionFor returns the Handle for addr, creating one if this is the
// first call for that address. Cheap, idempotent, and safe for concurrent
// callers: two calls on the same address observe the same Handle.
func (p *TransportPool) ConnectionFor(addr string) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[addr]; ok {
		return h
	}
	h := &Handle{addr: addr, pool: p, lastUsed: time.Now()}
	p.handles[addr] = h
	return h
}

// Stats returns the number of addresses with a currently live connection.
func (p *TransportPool) Stats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		h.mu.Lock()
		if h.conn != nil {
			n++
		}
		h.mu.Unlock()
	}
	return n
}

// Close tears down every cached connection and stops the reaper.
func (p *TransportPool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, h := range p.handles {
			h.closeLocked()
		}
	})
}

func (p *TransportPool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for _, h := range p.handles {
				h.mu.Lock()
				if h.conn != nil && h.lastUsed.Before(cutoff) {
					_ = h.conn.CloseWithError(0, "idle")
					h.conn = nil
				}
				h.mu.Unlock()
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}

func (h *Handle) closeLocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		_ = h.conn.CloseWithError(0, "pool closed")
		h.conn = nil
	}
}

// ensureConn returns the cached connection, dialing a new one if the cache
// is empty or the cached connection has failed. A transport error does not
// evict the Handle itself; the next call simply re-dials.
func (h *Handle) ensureConn(ctx context.Context) (*quic.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		select {
		case <-h.conn.Context().Done():
			h.conn = nil
		default:
			return h.conn, nil
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, h.pool.dialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, h.addr, h.pool.tlsConf, h.pool.quicConf)
	if err != nil {
		return nil, err
	}
	h.conn = conn
	return conn, nil
}

// Send transmits payload as a single unreliable datagram, bounded by
// deadline. No ordering guarantee is made across separate Send calls, even
// on the same Handle.
func (h *Handle) Send(ctx context.Context, payload []byte, deadline time.Duration) SendResult {
	sendCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	conn, err := h.ensureConn(sendCtx)
	if err != nil {
		if sendCtx.Err() != nil {
			return SendTimeout
		}
		return SendTransportErr
	}

	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- conn.SendDatagram(payload) }()

	select {
	case err := <-done:
		if err != nil {
			return SendTransportErr
		}
		return SendOK
	case <-sendCtx.Done():
		return SendTimeout
	}
}
