package apns

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kayac/Binfish/config"
)

// scriptedConn accepts writes until its budget of short writes is used.
type scriptedConn struct {
	net.Conn
	shortWrites int
	written     [][]byte
	closed      bool
}

func (c *scriptedConn) Write(b []byte) (int, error) {
	if c.shortWrites > 0 {
		c.shortWrites--
		return len(b) / 2, io.ErrShortWrite
	}
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

type scriptedDialer struct {
	conns []*scriptedConn
	addrs []string
	fail  bool
	// shortWrites of every new connection
	shortWrites []int
}

func (d *scriptedDialer) dial(addr string) (net.Conn, error) {
	d.addrs = append(d.addrs, addr)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := &scriptedConn{}
	if i := len(d.conns); i < len(d.shortWrites) {
		c.shortWrites = d.shortWrites[i]
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func newTestGateway(conf config.SectionApns, dial func(string) (net.Conn, error)) *Gateway {
	conf.SetDefaults()
	return &Gateway{
		conf:    conf,
		sandbox: conf.Sandbox,
		dial:    dial,
	}
}

func TestGatewaySend(t *testing.T) {
	d := &scriptedDialer{}
	g := newTestGateway(config.SectionApns{}, d.dial)

	frame := []byte{1, 2, 3, 4, 5, 6}
	for i := 0; i < 3; i++ {
		if !g.Send(frame) {
			t.Fatalf("send %d failed", i)
		}
	}
	if len(d.conns) != 1 {
		t.Errorf("connection must be reused, dialed %d times", len(d.conns))
	}
	if g.SentCount() != 3 {
		t.Errorf("unexpected sent count %d", g.SentCount())
	}
	if diff := cmp.Diff([]string{ProductionGateway}, d.addrs); diff != "" {
		t.Errorf("addr mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewaySendRetry(t *testing.T) {
	d := &scriptedDialer{shortWrites: []int{1}}
	g := newTestGateway(config.SectionApns{}, d.dial)

	frame := []byte{1, 2, 3, 4, 5, 6}
	if !g.Send(frame) {
		t.Fatal("send must succeed on the second attempt")
	}
	if len(d.conns) != 2 {
		t.Fatalf("expected a reconnect, dialed %d times", len(d.conns))
	}
	if !d.conns[0].closed {
		t.Error("first connection must be closed after a short write")
	}
	if diff := cmp.Diff([][]byte{frame}, d.conns[1].written); diff != "" {
		t.Errorf("the whole frame must be rewritten (-want +got):\n%s", diff)
	}
	if g.SentCount() != 1 {
		t.Errorf("unexpected sent count %d", g.SentCount())
	}
}

func TestGatewaySendExhausted(t *testing.T) {
	for _, attempts := range []int{1, 2, 3} {
		d := &scriptedDialer{shortWrites: []int{1, 1, 1, 1}}
		g := newTestGateway(config.SectionApns{MaxWriteAttempts: attempts}, d.dial)

		if g.Send([]byte{1, 2, 3, 4}) {
			t.Errorf("attempts:%d send must fail", attempts)
		}
		if len(d.conns) != attempts {
			t.Errorf("attempts:%d dialed %d times", attempts, len(d.conns))
		}
		if g.SentCount() != 0 {
			t.Errorf("attempts:%d failed sends must not be counted", attempts)
		}
	}
}

func TestGatewayConnectFailure(t *testing.T) {
	d := &scriptedDialer{fail: true}
	g := newTestGateway(config.SectionApns{Sandbox: true}, d.dial)

	if g.Connect() {
		t.Error("connect must fail")
	}
	if g.Connected() {
		t.Error("gateway must stay disconnected")
	}
	if g.Send([]byte{1}) {
		t.Error("send must fail without a connection")
	}
	if diff := cmp.Diff([]string{SandboxGateway, SandboxGateway}, d.addrs); diff != "" {
		t.Errorf("addr mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayStateTransitions(t *testing.T) {
	d := &scriptedDialer{}
	g := newTestGateway(config.SectionApns{Host: "127.0.0.1:12195"}, d.dial)

	if !g.Disconnect() {
		t.Error("disconnect while disconnected must succeed")
	}
	if !g.Connect() || !g.Connect() {
		t.Error("connect must succeed")
	}
	if len(d.conns) != 1 {
		t.Errorf("connect while connected must be a no-op, dialed %d times", len(d.conns))
	}
	if !g.Disconnect() || !g.Disconnect() {
		t.Error("disconnect must succeed")
	}
	if !d.conns[0].closed {
		t.Error("connection is not closed")
	}
	if d.addrs[0] != "127.0.0.1:12195" {
		t.Errorf("host override is ignored: %s", d.addrs[0])
	}
}

func TestGatewaySetSandboxMode(t *testing.T) {
	d := &scriptedDialer{}
	g := newTestGateway(config.SectionApns{}, d.dial)

	g.Connect()
	g.SetSandboxMode(false)
	if !g.Connected() {
		t.Error("same mode must keep the connection")
	}
	g.SetSandboxMode(true)
	if g.Connected() {
		t.Error("switching mode must drop the connection")
	}
	if g.Addr() != SandboxGateway {
		t.Errorf("unexpected addr %s", g.Addr())
	}
	g.Send([]byte{1})
	if diff := cmp.Diff([]string{ProductionGateway, SandboxGateway}, d.addrs); diff != "" {
		t.Errorf("addr mismatch (-want +got):\n%s", diff)
	}
}

func pipeGateway(t *testing.T) (*Gateway, net.Conn) {
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	g := newTestGateway(config.SectionApns{}, func(string) (net.Conn, error) {
		return nil, errors.New("no dial in this test")
	})
	g.conn = client
	return g, server
}

func TestGatewayPollOnceEmpty(t *testing.T) {
	g, _ := pipeGateway(t)
	if rec := g.PollOnce(); rec != nil {
		t.Errorf("unexpected record %s", rec)
	}
	if !g.Connected() {
		t.Error("a poll timeout must keep the connection")
	}
}

func TestGatewayPollPartialRecord(t *testing.T) {
	g, server := pipeGateway(t)
	b := ErrorRecord{Status: InvalidToken, CorrelationID: 42}.Bytes()

	written := make(chan struct{})
	go func() {
		server.Write(b[:3])
		close(written)
	}()

	deadline := time.Now().Add(time.Second)
	for len(g.pending) < 3 && time.Now().Before(deadline) {
		if rec := g.PollOnce(); rec != nil {
			t.Fatalf("record returned before it was complete: %s", rec)
		}
		time.Sleep(time.Millisecond)
	}
	<-written
	if len(g.pending) != 3 {
		t.Fatalf("partial record is not kept, pending %d bytes", len(g.pending))
	}

	go server.Write(b[3:])
	rec := g.PollWithTimeout(time.Second, 5*time.Millisecond)
	want := &ErrorRecord{Command: CommandErrorRecord, Status: InvalidToken, CorrelationID: 42}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayPollClosed(t *testing.T) {
	g, server := pipeGateway(t)
	server.Close()

	if rec := g.PollOnce(); rec != nil {
		t.Errorf("unexpected record %s", rec)
	}
	if g.Connected() {
		t.Error("gateway must disconnect when the peer closed")
	}
	if rec := g.PollOnce(); rec != nil {
		t.Errorf("unexpected record %s", rec)
	}
}

func TestGatewayPollWithTimeout(t *testing.T) {
	g, _ := pipeGateway(t)

	window := 100 * time.Millisecond
	start := time.Now()
	if rec := g.PollWithTimeout(window, 10*time.Millisecond); rec != nil {
		t.Errorf("unexpected record %s", rec)
	}
	if elapsed := time.Since(start); elapsed < window {
		t.Errorf("returned before the window elapsed: %s", elapsed)
	}

	g.Disconnect()
	start = time.Now()
	g.PollWithTimeout(time.Second, 10*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("polling a closed gateway must not wait the whole window: %s", elapsed)
	}
}
