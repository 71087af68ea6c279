package apns

import (
	"testing"

	"github.com/kayac/Binfish/config"
)

func testApnsConfig() config.SectionApns {
	return config.SectionApns{
		CertFile:     "../test/server.crt",
		KeyFile:      "../test/server.key",
		RootCertFile: "../test/server.crt",
	}
}

func TestGatewayPool(t *testing.T) {
	pool := NewGatewayPool()
	conf := testApnsConfig()

	g1, err := pool.Get(conf)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := pool.Get(conf)
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Error("same credentials must share a gateway")
	}

	conf.Sandbox = true
	g3, err := pool.Get(conf)
	if err != nil {
		t.Fatal(err)
	}
	if g3 == g1 {
		t.Error("sandbox and production must not share a gateway")
	}
	if g3.Addr() != SandboxGateway {
		t.Errorf("unexpected addr %s", g3.Addr())
	}

	conf = testApnsConfig()
	conf.CertFile, conf.KeyFile, conf.Passphrase = "../test/server.crt", "../test/server_enc.key", "binfish"
	g4, err := pool.Get(conf)
	if err != nil {
		t.Fatal(err)
	}
	if g4 == g1 {
		t.Error("different keys must not share a gateway")
	}

	if pool.Len() != 3 {
		t.Errorf("unexpected pool size %d", pool.Len())
	}
	pool.Close()
	if pool.Len() != 0 {
		t.Errorf("pool is not empty after close: %d", pool.Len())
	}
}

func TestGatewayPoolInvalidCertificate(t *testing.T) {
	pool := NewGatewayPool()
	conf := testApnsConfig()
	conf.CertFile = "../test/missing.crt"

	if _, err := pool.Get(conf); err == nil {
		t.Error("missing certificate must fail")
	}
	if pool.Len() != 0 {
		t.Errorf("failed gateway must not be pooled")
	}
}
