package apns

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"time"

	"github.com/kayac/Binfish/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Gateway endpoints of the binary provider API.
const (
	ProductionGateway = "gateway.push.apple.com:2195"
	SandboxGateway    = "gateway.sandbox.push.apple.com:2195"
)

// pollReadTimeout is the read deadline used by PollOnce. A deadline in the
// past fails before looking at the socket, so it has to be slightly ahead.
const pollReadTimeout = time.Millisecond

// ClientTLSConfig builds the TLS configuration used to dial the gateway.
var ClientTLSConfig = func(cert tls.Certificate, roots *x509.CertPool, serverName string, skipVerify bool) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            roots,
		ServerName:         serverName,
		InsecureSkipVerify: skipVerify,
	}
}

// Gateway is a connection to the binary gateway. It connects lazily and
// is not safe for concurrent use.
type Gateway struct {
	conf    config.SectionApns
	cert    tls.Certificate
	roots   *x509.CertPool
	sandbox bool

	conn      net.Conn
	pending   []byte
	sentCount int

	dial func(addr string) (net.Conn, error)
}

// NewGateway loads the certificates of conf and returns a disconnected Gateway.
func NewGateway(conf config.SectionApns) (*Gateway, error) {
	conf.SetDefaults()

	cert, err := config.LoadCertificate(conf.CertFile, conf.KeyFile, conf.Passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load client certificate")
	}
	var roots *x509.CertPool
	if conf.RootCertFile != "" {
		if roots, err = config.LoadRootCAs(conf.RootCertFile); err != nil {
			return nil, errors.Wrap(err, "cannot load root certificate")
		}
	}

	g := &Gateway{
		conf:    conf,
		cert:    cert,
		roots:   roots,
		sandbox: conf.Sandbox,
	}
	g.dial = g.dialTLS
	return g, nil
}

func (g *Gateway) dialTLS(addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: g.conf.ConnectTimeoutDuration()}
	return tls.DialWithDialer(dialer, "tcp", addr, ClientTLSConfig(g.cert, g.roots, host, g.conf.SkipInsecure))
}

// Addr returns the endpoint the gateway connects to.
func (g *Gateway) Addr() string {
	if g.conf.Host != "" {
		return g.conf.Host
	}
	if g.sandbox {
		return SandboxGateway
	}
	return ProductionGateway
}

// Connected reports whether a connection is open.
func (g *Gateway) Connected() bool {
	return g.conn != nil
}

// SentCount returns the number of frames fully written by this gateway.
// Retries and replays are counted once per successful write.
func (g *Gateway) SentCount() int {
	return g.sentCount
}

// SetSandboxMode switches between the production and sandbox endpoints.
// A change of mode drops the connection; the next Send reconnects.
func (g *Gateway) SetSandboxMode(enabled bool) {
	if enabled == g.sandbox {
		return
	}
	g.sandbox = enabled
	g.Disconnect()
}

// Connect opens the TLS connection. It is a no-op when already connected.
func (g *Gateway) Connect() bool {
	if g.conn != nil {
		return true
	}

	addr := g.Addr()
	conn, err := g.dial(addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"type": "gateway",
			"addr": addr,
		}).Errorf("Failed to connect: %s", err)
		return false
	}
	g.conn = conn
	g.pending = g.pending[:0]

	logrus.WithFields(logrus.Fields{
		"type": "gateway",
		"addr": addr,
	}).Debug("Connected")
	return true
}

// Disconnect closes the connection if open. Any partially read error
// record is discarded with it.
func (g *Gateway) Disconnect() bool {
	if g.conn == nil {
		return true
	}
	err := g.conn.Close()
	g.conn = nil
	g.pending = g.pending[:0]
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"type": "gateway",
		}).Debugf("Close failed: %s", err)
		return false
	}
	return true
}

// Send writes one complete frame. A short write cannot be resumed because
// the gateway only parses whole frames, so the frame is written again from
// the start on a new connection, up to MaxWriteAttempts writes in total.
func (g *Gateway) Send(frame []byte) bool {
	if !g.Connect() {
		return false
	}

	for attempt := 1; ; attempt++ {
		n, err := g.conn.Write(frame)
		if err == nil && n == len(frame) {
			g.sentCount++
			return true
		}

		logrus.WithFields(logrus.Fields{
			"type":    "gateway",
			"attempt": attempt,
			"written": n,
			"size":    len(frame),
		}).Debugf("Short write: %v", err)

		if attempt >= g.conf.MaxWriteAttempts {
			break
		}
		g.Disconnect()
		if !g.Connect() {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"type": "gateway",
		"size": len(frame),
	}).Warnf("Failed to write frame after %d attempts", g.conf.MaxWriteAttempts)
	return false
}

// PollOnce returns an error record if one has been fully received, without
// blocking. Bytes of an incomplete record are kept until the next call.
func (g *Gateway) PollOnce() *ErrorRecord {
	if g.conn == nil {
		return nil
	}

	if err := g.conn.SetReadDeadline(time.Now().Add(pollReadTimeout)); err != nil {
		logrus.WithFields(logrus.Fields{
			"type": "gateway",
		}).Debugf("SetReadDeadline failed: %s", err)
		return nil
	}

	buf := make([]byte, ErrorRecordSize-len(g.pending))
	n, err := g.conn.Read(buf)
	g.pending = append(g.pending, buf[:n]...)

	if len(g.pending) >= ErrorRecordSize {
		rec, _ := DecodeErrorRecord(g.pending)
		g.pending = g.pending[:0]
		return rec
	}

	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		fields := logrus.Fields{
			"type":    "gateway",
			"pending": len(g.pending),
		}
		if err == io.EOF {
			logrus.WithFields(fields).Info("Connection closed by gateway")
		} else {
			logrus.WithFields(fields).Warnf("Read failed: %s", err)
		}
		g.Disconnect()
	}
	return nil
}

// PollWithTimeout waits up to window for an error record, sleeping interval
// between two polls.
func (g *Gateway) PollWithTimeout(window, interval time.Duration) *ErrorRecord {
	start := time.Now()
	for time.Since(start) < window {
		time.Sleep(interval)
		if rec := g.PollOnce(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"type":   "gateway",
				"id":     rec.CorrelationID,
				"status": rec.Status,
			}).Debug("Received error record")
			return rec
		}
		if g.conn == nil {
			return nil
		}
	}
	return nil
}

// PollForErrors waits for an error record using the configured window and interval.
func (g *Gateway) PollForErrors() *ErrorRecord {
	return g.PollWithTimeout(g.conf.ErrorPollWindowDuration(), g.conf.ErrorPollIntervalDuration())
}
