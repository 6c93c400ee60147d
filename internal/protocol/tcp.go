package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/jwrapper/internal/logger"
)

// Default port range searched when no fixed port is configured.
const (
	DefaultPortMin = 32000
	DefaultPortMax = 32999
)

const (
	acceptWait  = time.Millisecond
	readWait    = time.Millisecond
	sendTimeout = 2 * time.Second
)

// TCPConfig configures the loopback server socket.
type TCPConfig struct {
	// Port is tried first when positive; on failure the range is searched.
	Port    int
	PortMin int
	PortMax int
	// Debug traces every packet except silent pings.
	Debug bool
}

// TCPServer is a Channel over a loopback TCP socket. It accepts a single
// child connection and stops listening once that connection is made.
type TCPServer struct {
	cfg TCPConfig
	log *logger.Logger

	mu      sync.Mutex
	ln      *net.TCPListener
	conn    net.Conn
	rd      *bufio.Reader
	partial []byte
	port    int
}

var _ Channel = (*TCPServer)(nil)

// NewTCPServer returns an idle server; Listen binds it.
func NewTCPServer(cfg TCPConfig, log *logger.Logger) *TCPServer {
	if cfg.PortMax < cfg.PortMin {
		cfg.PortMax = cfg.PortMin
	}
	return &TCPServer{cfg: cfg, log: log}
}

func (s *TCPServer) debugf(format string, args ...any) {
	if s.cfg.Debug {
		s.log.Log(logger.SourceProtocol, logger.LevelDebug, format, args...)
	}
}

func (s *TCPServer) Listen() error {
	if s.ln != nil {
		return nil
	}
	port := s.cfg.Port
	fixed := port > 0
	if !fixed {
		port = s.cfg.PortMin
	}
	var lastErr error
	for {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			s.ln = ln.(*net.TCPListener)
			break
		}
		lastErr = err
		if fixed {
			fixed = false
			port = s.cfg.PortMin
			continue
		}
		port++
		if port > s.cfg.PortMax {
			if s.cfg.Port <= 0 {
				s.log.Log(logger.SourceProtocol, logger.LevelFatal,
					"unable to bind listener to any port in the range %d-%d. (%v)", s.cfg.PortMin, s.cfg.PortMax, lastErr)
			} else {
				s.log.Log(logger.SourceProtocol, logger.LevelFatal,
					"unable to bind listener port %d, or any port in the range %d-%d. (%v)", s.cfg.Port, s.cfg.PortMin, s.cfg.PortMax, lastErr)
			}
			return fmt.Errorf("%w: %v", ErrNotListening, lastErr)
		}
	}
	s.port = s.ln.Addr().(*net.TCPAddr).Port
	if s.cfg.Port > 0 && s.port != s.cfg.Port {
		s.log.Log(logger.SourceProtocol, logger.LevelInfo, "port %d already in use, using port %d instead.", s.cfg.Port, s.port)
	}
	s.debugf("server listening on port %d.", s.port)
	return nil
}

func (s *TCPServer) Listening() bool { return s.ln != nil }

func (s *TCPServer) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.port
}

func (s *TCPServer) Connected() bool { return s.conn != nil }

func (s *TCPServer) accept() {
	if s.ln == nil || s.conn != nil {
		return
	}
	_ = s.ln.SetDeadline(time.Now().Add(acceptWait))
	c, err := s.ln.Accept()
	if err != nil {
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			s.debugf("socket creation failed. (%v)", err)
		}
		return
	}
	s.debugf("accepted a socket from %s on port %d", c.RemoteAddr(), s.port)
	s.conn = c
	s.rd = bufio.NewReaderSize(c, MaxMessage+2)
	s.partial = s.partial[:0]
	// one child per listener
	s.stopListener()
}

func (s *TCPServer) Read(dispatch func(Packet)) bool {
	start := time.Now()
	for time.Since(start) < ReadBudget {
		if s.conn == nil {
			s.accept()
			if s.conn == nil {
				return false
			}
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		chunk, err := s.rd.ReadSlice(0)
		if len(s.partial) <= MaxMessage+1 {
			s.partial = append(s.partial, chunk...)
		}
		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				continue
			case errors.Is(err, os.ErrDeadlineExceeded):
				return false
			}
			s.debugf("socket read no code (closed?). (%v)", err)
			s.CloseConn()
			return false
		}
		pkt := decode(s.partial)
		s.partial = s.partial[:0]
		if !(pkt.Code == Ping && pkt.Message == SilentPing) {
			s.debugf("read a packet %s : %s", pkt.Code, pkt.Message)
		}
		dispatch(pkt)
		if s.conn == nil {
			return false
		}
	}
	return true
}

func (s *TCPServer) Send(code Code, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logMsg := msg
	if code == Properties {
		logMsg = "(Property Values)"
	}
	if s.conn == nil {
		s.debugf("socket not open, so packet not sent %s : %s", code, logMsg)
		return ErrNotConnected
	}
	if !(code == Ping && msg == SilentPing) {
		s.debugf("send a packet %s : %s", code, logMsg)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := s.conn.Write(Encode(code, msg)); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			s.log.Log(logger.SourceProtocol, logger.LevelWarn, "socket send failed.  Blocked for 2 seconds.  %v", err)
		} else {
			s.debugf("socket send failed.  %v", err)
		}
		s.closeConn()
		return err
	}
	return nil
}

func (s *TCPServer) CloseConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConn()
}

func (s *TCPServer) closeConn() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.debugf("socket close failed. (%v)", err)
	}
	s.conn, s.rd = nil, nil
	s.partial = s.partial[:0]
}

func (s *TCPServer) stopListener() {
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
}

func (s *TCPServer) Close() error {
	s.CloseConn()
	s.stopListener()
	return nil
}
