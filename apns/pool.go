package apns

import (
	"sync"

	"github.com/kayac/Binfish/config"
)

type poolKey struct {
	host         string
	certFile     string
	keyFile      string
	passphrase   string
	rootCertFile string
	sandbox      bool
}

// GatewayPool keeps one Gateway per set of credentials so that the TLS
// session is reused by subsequent queue runs. A Gateway obtained from the
// pool must still be used by one queue at a time.
type GatewayPool struct {
	mu       sync.Mutex
	gateways map[poolKey]*Gateway
}

// NewGatewayPool returns an empty pool.
func NewGatewayPool() *GatewayPool {
	return &GatewayPool{
		gateways: make(map[poolKey]*Gateway),
	}
}

// Get returns the gateway for the credentials of conf, creating it on first use.
func (p *GatewayPool) Get(conf config.SectionApns) (*Gateway, error) {
	key := poolKey{
		host:         conf.Host,
		certFile:     conf.CertFile,
		keyFile:      conf.KeyFile,
		passphrase:   conf.Passphrase,
		rootCertFile: conf.RootCertFile,
		sandbox:      conf.Sandbox,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gateways[key]; ok {
		return g, nil
	}
	g, err := NewGateway(conf)
	if err != nil {
		return nil, err
	}
	p.gateways[key] = g
	return g, nil
}

// Len returns the number of gateways in the pool.
func (p *GatewayPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.gateways)
}

// Close disconnects and forgets every gateway.
func (p *GatewayPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, g := range p.gateways {
		g.Disconnect()
		delete(p.gateways, key)
	}
}
