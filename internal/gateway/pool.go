package gateway

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolConfig sizes the connection worker pool.
type PoolConfig struct {
	MinWorkers int
	MaxWorkers int
	KeepAlive  time.Duration
	QueueSize  int
}

// DefaultPoolConfig is 2 core workers growing to 4, with a queue of 64.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MinWorkers: 2, MaxWorkers: 4, KeepAlive: 30 * time.Second, QueueSize: 64}
}

// Pool serves connections on a bounded set of goroutines.
//
// Core workers live until Stop. When the queue is full an extra worker is
// started, up to MaxWorkers; extra workers exit after KeepAlive idle.
// Past that, Submit refuses the connection.
type Pool struct {
	cfg    PoolConfig
	handle func(net.Conn)
	logger *zap.Logger

	queue chan net.Conn
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	workers int
	stopped bool
}

// NewPool creates a pool and starts its core workers.
func NewPool(cfg PoolConfig, handle func(net.Conn), logger *zap.Logger) *Pool {
	def := DefaultPoolConfig()
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = def.MinWorkers
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	p := &Pool{
		cfg:    cfg,
		handle: handle,
		logger: logger,
		queue:  make(chan net.Conn, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
	p.mu.Lock()
	for i := 0; i < cfg.MinWorkers; i++ {
		p.spawn(nil, true)
	}
	p.mu.Unlock()
	return p
}

// Submit hands conn to the pool. It returns false when the pool is
// saturated or stopped; the caller owns conn in that case.
func (p *Pool) Submit(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	select {
	case p.queue <- conn:
		return true
	default:
	}

	if p.workers < p.cfg.MaxWorkers {
		p.spawn(conn, false)
		return true
	}
	return false
}

// Workers returns the current number of worker goroutines.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// spawn starts a worker. Caller holds mu.
func (p *Pool) spawn(first net.Conn, core bool) {
	p.workers++
	p.wg.Add(1)
	go p.work(first, core)
}

func (p *Pool) work(first net.Conn, core bool) {
	defer p.wg.Done()

	if first != nil {
		p.serve(first)
	}

	var idle *time.Timer
	var expired <-chan time.Time
	if !core {
		idle = time.NewTimer(p.cfg.KeepAlive)
		defer idle.Stop()
		expired = idle.C
	}

	for {
		select {
		case conn := <-p.queue:
			p.serve(conn)
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(p.cfg.KeepAlive)
			}
		case <-expired:
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			return
		case <-p.quit:
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) serve(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("connection handler panic", zap.Any("panic", r))
			conn.Close()
		}
	}()
	p.handle(conn)
}

// Stop stops the workers, waits for in-flight connections and closes
// anything still queued.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case conn := <-p.queue:
			conn.Close()
		default:
			return
		}
	}
}
