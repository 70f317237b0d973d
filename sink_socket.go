package logpipe

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ugorji/go/codec"
)

// TLSOptions configures TLS for a TCP socket handler.
type TLSOptions struct {
	// Domain is the expected server name.
	Domain string
	// Insecure disables certificate verification.
	Insecure bool
}

// SocketConfig configures a framed socket handler. Each record is encoded
// as a compact binary payload and written with a 4-byte big-endian length
// prefix.
type SocketConfig struct {
	CommonHandlerConfig

	// Network is "tcp" or "unix".
	Network string
	// Address is host:port for tcp, the socket path for unix.
	Address string
	// TLS enables TLS; valid only over tcp.
	TLS *TLSOptions

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// MaxFrameSize drops frames (prefix included) larger than this.
	// Zero means unlimited.
	MaxFrameSize int

	Backoff Backoff
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

func (c SocketConfig) common() CommonHandlerConfig { return c.CommonHandlerConfig }

func (c SocketConfig) buildHandler(id string, f *Formatter) (*Handler, error) {
	cc := c.CommonHandlerConfig
	if id != "" {
		cc.ID = id
	}
	o, err := cc.runtime("socket", f)
	if err != nil {
		return nil, err
	}
	switch c.Network {
	case "tcp", "unix":
	default:
		return nil, &HandlerConfigError{Kind: UnsupportedOption, ID: o.id,
			Err: fmt.Errorf("network %q", c.Network)}
	}
	if c.TLS != nil && c.Network != "tcp" {
		return nil, &HandlerConfigError{Kind: TlsRequiresTcp, ID: o.id}
	}
	if c.Address == "" {
		return nil, &HandlerConfigError{Kind: UnsupportedOption, ID: o.id,
			Err: fmt.Errorf("address is required")}
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return nil, &HandlerConfigError{Kind: ZeroTimeout, ID: o.id,
			Err: fmt.Errorf("negative timeout")}
	}
	s := &socketSink{
		network:        c.Network,
		addr:           c.Address,
		connectTimeout: c.ConnectTimeout,
		writeTimeout:   c.WriteTimeout,
		maxFrame:       c.MaxFrameSize,
		bo:             newBackoffTimer(c.Backoff),
		stats:          o.stats,
	}
	if s.connectTimeout == 0 {
		s.connectTimeout = defaultConnectTimeout
	}
	if s.writeTimeout == 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if c.TLS != nil {
		s.tlsConf = &tls.Config{
			ServerName:         c.TLS.Domain,
			InsecureSkipVerify: c.TLS.Insecure,
		}
	}
	s.cbor.Canonical = true
	return newHandler(o, s), nil
}

// NewSocketHandler builds a framed TCP or Unix-domain socket handler with
// lazy connect and exponential-backoff reconnects.
func NewSocketHandler(cfg SocketConfig) (*Handler, error) {
	return cfg.buildHandler("", nil)
}

// wireRecord is the socket payload: the record's semantic fields in a
// canonical CBOR map, deterministic for a given record.
type wireRecord struct {
	Name       string                 `codec:"name"`
	Level      int8                   `codec:"level"`
	LevelName  string                 `codec:"levelname"`
	Message    string                 `codec:"message"`
	TimeUnixNS int64                  `codec:"time_unix_ns"`
	ThreadID   string                 `codec:"thread_id"`
	ThreadName string                 `codec:"thread_name,omitempty"`
	Fields     map[string]interface{} `codec:"fields,omitempty"`
	Exc        string                 `codec:"exc_text,omitempty"`
	Stack      string                 `codec:"stack,omitempty"`
}

// socketSink owns one connection, touched only by the consumer. A write
// failure closes the connection and enters Reconnecting: the sink retries
// with jittered exponential backoff, blocking the consumer (so arriving
// records queue under the handler's overflow policy) until the configured
// deadline; past the deadline it degrades to dropping records, attempting
// a single reconnect per Cap interval.
type socketSink struct {
	network string
	addr    string
	tlsConf *tls.Config

	connectTimeout time.Duration
	writeTimeout   time.Duration
	maxFrame       int

	conn        net.Conn
	bo          *backoffTimer
	degraded    bool
	nextAttempt time.Time

	cbor  codec.CborHandle
	stats *handlerStats
}

func (s *socketSink) encode(rec *Record) ([]byte, error) {
	w := wireRecord{
		Name:       rec.Name,
		Level:      int8(rec.Level),
		LevelName:  rec.Level.String(),
		Message:    rec.Message,
		TimeUnixNS: rec.Time.UnixNano(),
		ThreadID:   rec.ThreadID,
		ThreadName: rec.ThreadName,
		Stack:      rec.Stack,
	}
	if rec.Exc != nil {
		w.Exc = formatAny(rec.Exc)
	}
	if n := rec.NumFields(); n > 0 {
		w.Fields = make(map[string]interface{}, n)
		rec.EachField(func(f *Field) {
			w.Fields[f.Key] = f.value()
		})
	}
	var payload []byte
	err := codec.NewEncoderBytes(&payload, &s.cbor).Encode(w)
	return payload, err
}

func (s *socketSink) dial() (net.Conn, error) {
	if s.tlsConf != nil {
		return tls.DialWithDialer(&net.Dialer{Timeout: s.connectTimeout},
			s.network, s.addr, s.tlsConf)
	}
	return net.DialTimeout(s.network, s.addr, s.connectTimeout)
}

// reconnect blocks through the backoff schedule until a dial succeeds or
// the recovery deadline passes.
func (s *socketSink) reconnect() error {
	start := time.Now()
	for {
		conn, err := s.dial()
		if err == nil {
			s.conn = conn
			s.degraded = false
			s.bo.noteSuccess(time.Now())
			return nil
		}
		s.stats.retries.Add(1)
		s.bo.noteFailure()
		if s.bo.deadlineExceeded(start, time.Now()) {
			return err
		}
		time.Sleep(s.bo.next())
	}
}

// ensureConnected returns false when the record should be dropped.
func (s *socketSink) ensureConnected() bool {
	if s.conn != nil {
		return true
	}
	now := time.Now()
	if s.degraded {
		if now.Before(s.nextAttempt) {
			return false
		}
		conn, err := s.dial()
		if err != nil {
			s.stats.retries.Add(1)
			s.nextAttempt = now.Add(s.bo.policy.Cap)
			return false
		}
		s.conn = conn
		s.degraded = false
		s.bo.noteSuccess(now)
		return true
	}
	if err := s.reconnect(); err != nil {
		s.degraded = true
		s.nextAttempt = time.Now().Add(s.bo.policy.Cap)
		return false
	}
	return true
}

func (s *socketSink) Write(rec *Record, _ []byte) error {
	payload, err := s.encode(rec)
	if err != nil {
		return err
	}
	if s.maxFrame > 0 && len(payload)+4 > s.maxFrame {
		s.stats.writeErrors.Add(1)
		return nil
	}
	if !s.ensureConnected() {
		s.stats.dropped.Add(1)
		return nil
	}

	if err := s.writeFrame(payload); err != nil {
		// One recovery cycle, then retry the frame once.
		s.conn.Close()
		s.conn = nil
		s.bo.noteFailure()
		if !s.ensureConnected() {
			s.stats.dropped.Add(1)
			return nil
		}
		if err := s.writeFrame(payload); err != nil {
			s.conn.Close()
			s.conn = nil
			s.stats.dropped.Add(1)
			return nil
		}
	}
	s.bo.noteSuccess(time.Now())
	return nil
}

func (s *socketSink) writeFrame(payload []byte) error {
	buf := getBuffer()
	buf.AppendUint32BE(uint32(len(payload)))
	buf.AppendBytes(payload)
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write(buf.Bytes())
	putBuffer(buf)
	return err
}

func (s *socketSink) Flush() error {
	// The connection is unbuffered at this layer.
	return nil
}

func (s *socketSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
