package realtime

import (
	"sync"
	"time"
)

// DefaultPingInterval is the heartbeat period while the connection is open.
const DefaultPingInterval = 10 * time.Second

type pingSender interface {
	Send(msg any)
	Connected() bool
}

// Pinger drives the heartbeat from outside the connection: a ping message on
// a fixed period while connected. The server answers with a pong that is
// dispatched like any other message. A missing pong is not treated as a
// liveness failure; reconnection is triggered by transport close/error only.
type Pinger struct {
	Interval time.Duration

	conn pingSender
	mu   sync.Mutex
	stop chan struct{}
}

func NewPinger(conn pingSender) *Pinger {
	return &Pinger{Interval: DefaultPingInterval, conn: conn}
}

func (p *Pinger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	go p.run(p.stop)
}

func (p *Pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *Pinger) run(stop chan struct{}) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p.conn.Connected() {
				p.conn.Send(Ping())
			}
		}
	}
}
