package mock

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kayac/Binfish/apns"
	"github.com/sirupsen/logrus"
)

// DeadTokenPrefix marks tokens rejected by RejectDeadTokens.
var DeadTokenPrefix = []byte{0xde, 0xad}

// Rejecter decides the status of a received frame. apns.None accepts it.
type Rejecter func(f *apns.Frame) apns.ErrorCode

// RejectDeadTokens rejects tokens starting with "dead" as invalid.
func RejectDeadTokens(f *apns.Frame) apns.ErrorCode {
	if len(f.Token) != apns.TokenSize {
		return apns.InvalidTokenSize
	}
	if len(f.Payload) == 0 {
		return apns.MissingPayload
	}
	if bytes.HasPrefix(f.Token, DeadTokenPrefix) {
		return apns.InvalidToken
	}
	return apns.None
}

// GatewayServer behaves like the binary gateway: it reads enhanced
// notifications, writes an error record for the first rejected frame of a
// connection and silently drops every frame after it.
type GatewayServer struct {
	Rejecter Rejecter
	// CloseOnError closes the connection after writing the error record,
	// as the production gateway does.
	CloseOnError bool
	// Delay is applied before an error record is written.
	Delay time.Duration

	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	accepted    []uint32
	rejected    []uint32
	dropped     []uint32
	connections int
	conns       map[net.Conn]struct{}
}

// NewGatewayServer returns a server with the default rejecter.
func NewGatewayServer() *GatewayServer {
	return &GatewayServer{
		Rejecter: RejectDeadTokens,
	}
}

// ListenAndServe listens on addr with cert and serves in the background.
// Clients have to present a certificate.
func (s *GatewayServer) ListenAndServe(addr string, cert tls.Certificate) error {
	l, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
	})
	if err != nil {
		return err
	}
	s.listener = l
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Serve(l)
	}()
	return nil
}

// Serve accepts connections on l until it is closed.
func (s *GatewayServer) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.connections++
		if s.conns == nil {
			s.conns = make(map[net.Conn]struct{})
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Addr returns the listening address.
func (s *GatewayServer) Addr() string {
	return s.listener.Addr().String()
}

// Close stops listening, closes open connections and waits for their handlers.
func (s *GatewayServer) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *GatewayServer) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	failed := false
	for {
		f, err := apns.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				logrus.WithFields(logrus.Fields{
					"type": "mock",
				}).Debugf("read frame: %s", err)
			}
			return
		}

		if failed {
			s.record(&s.dropped, f.CorrelationID)
			continue
		}

		status := apns.None
		if s.Rejecter != nil {
			status = s.Rejecter(f)
		}
		if status == apns.None {
			s.record(&s.accepted, f.CorrelationID)
			continue
		}

		failed = true
		s.record(&s.rejected, f.CorrelationID)
		logrus.WithFields(logrus.Fields{
			"type":   "mock",
			"id":     f.CorrelationID,
			"status": status,
		}).Debug("reject")

		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
		rec := apns.ErrorRecord{Status: status, CorrelationID: f.CorrelationID}
		if _, err := conn.Write(rec.Bytes()); err != nil {
			return
		}
		if s.CloseOnError {
			return
		}
	}
}

func (s *GatewayServer) record(ids *[]uint32, id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*ids = append(*ids, id)
}

func (s *GatewayServer) snapshot(ids *[]uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), *ids...)
}

// Accepted returns the ids of accepted notifications in arrival order.
func (s *GatewayServer) Accepted() []uint32 {
	return s.snapshot(&s.accepted)
}

// Rejected returns the ids answered with an error record.
func (s *GatewayServer) Rejected() []uint32 {
	return s.snapshot(&s.rejected)
}

// Dropped returns the ids received after a rejection on the same connection.
func (s *GatewayServer) Dropped() []uint32 {
	return s.snapshot(&s.dropped)
}

// Connections returns the number of accepted connections.
func (s *GatewayServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}
