package resolver

import (
	"sync"

	"github.com/miekg/dns"
)

// connPool holds idle upstream TCP connections. A connection is owned by
// exactly one query between Get and Put.
type connPool struct {
	mu   sync.Mutex
	idle []*dns.Conn
	size int
}

func newConnPool(size int) *connPool {
	return &connPool{size: size}
}

// Get returns the most recently used idle connection, or nil
func (p *connPool) Get() *dns.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil
	}

	conn := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return conn
}

func (p *connPool) Put(conn *dns.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) >= p.size {
		conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
}

func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
