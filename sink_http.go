package logpipe

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPAuth selects request authentication for the HTTP handler.
type HTTPAuth struct {
	User  string
	Pass  string
	Token string
}

// BasicAuth authenticates with a username and password.
func BasicAuth(user, pass string) *HTTPAuth {
	return &HTTPAuth{User: user, Pass: pass}
}

// BearerAuth authenticates with a bearer token.
func BearerAuth(token string) *HTTPAuth {
	return &HTTPAuth{Token: token}
}

// HTTPConfig configures a handler posting records to a URL, one request per
// record. The body is the formatter's text output, or — when RecordFields
// is set — a JSON object projecting those record fields.
type HTTPConfig struct {
	CommonHandlerConfig

	URL string
	// Method is POST (default) or PUT. GET is rejected.
	Method string
	Auth   *HTTPAuth

	// RecordFields selects the semantic record fields projected into the
	// JSON body. "fields" projects the record's key-value map as a nested
	// object. Unknown names fail the build.
	RecordFields []string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	Backoff Backoff
}

// Semantic record fields the HTTP projection understands.
var httpRecordFields = map[string]struct{}{
	"name":       {},
	"levelname":  {},
	"level":      {},
	"message":    {},
	"asctime":    {},
	"threadName": {},
	"filename":   {},
	"lineno":     {},
	"exc_text":   {},
	"stack_info": {},
	"fields":     {},
}

func (c HTTPConfig) common() CommonHandlerConfig { return c.CommonHandlerConfig }

func (c HTTPConfig) buildHandler(id string, f *Formatter) (*Handler, error) {
	cc := c.CommonHandlerConfig
	if id != "" {
		cc.ID = id
	}
	o, err := cc.runtime("http", f)
	if err != nil {
		return nil, err
	}
	if c.URL == "" {
		return nil, &HandlerConfigError{Kind: UnsupportedOption, ID: o.id,
			Err: fmt.Errorf("url is required")}
	}
	method := strings.ToUpper(c.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return nil, &HandlerConfigError{Kind: UnsupportedOption, ID: o.id,
			Err: fmt.Errorf("method %q", c.Method)}
	}
	if c.Auth != nil && c.Auth.Token != "" && (c.Auth.User != "" || c.Auth.Pass != "") {
		return nil, &HandlerConfigError{Kind: AuthConflict, ID: o.id,
			Err: fmt.Errorf("both basic and bearer credentials set")}
	}
	for _, fld := range c.RecordFields {
		if _, ok := httpRecordFields[fld]; !ok {
			return nil, &HandlerConfigError{Kind: UnknownField, ID: o.id,
				Err: fmt.Errorf("record field %q", fld)}
		}
	}
	connectTimeout := c.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	writeTimeout := c.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}
	if connectTimeout < 0 || writeTimeout < 0 {
		return nil, &HandlerConfigError{Kind: ZeroTimeout, ID: o.id,
			Err: fmt.Errorf("negative timeout")}
	}
	s := &httpSink{
		url:    c.URL,
		method: method,
		auth:   c.Auth,
		fields: c.RecordFields,
		client: &http.Client{
			Timeout: writeTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		bo:    newBackoffTimer(c.Backoff),
		stats: o.stats,
	}
	return newHandler(o, s), nil
}

// NewHTTPHandler builds a handler posting each record to cfg.URL.
func NewHTTPHandler(cfg HTTPConfig) (*Handler, error) {
	return cfg.buildHandler("", nil)
}

// httpSink posts one request per record. A transport error or non-2xx
// response is a retryable failure: the record is dropped (counted) and
// subsequent attempts are gated by the backoff schedule; records arriving
// while gated are dropped and counted.
type httpSink struct {
	url    string
	method string
	auth   *HTTPAuth
	fields []string
	client *http.Client

	bo          *backoffTimer
	nextAttempt time.Time

	stats *handlerStats
}

func (s *httpSink) Write(rec *Record, line []byte) error {
	now := time.Now()
	if now.Before(s.nextAttempt) {
		s.stats.dropped.Add(1)
		return nil
	}

	var body []byte
	contentType := "text/plain; charset=utf-8"
	if len(s.fields) > 0 {
		buf := getBuffer()
		s.appendProjection(buf, rec)
		body = append([]byte(nil), buf.Bytes()...)
		putBuffer(buf)
		contentType = "application/json"
	} else {
		body = append([]byte(nil), line...)
	}

	req, err := http.NewRequest(s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if s.auth != nil {
		if s.auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.auth.Token)
		} else {
			req.SetBasicAuth(s.auth.User, s.auth.Pass)
		}
	}

	resp, err := s.client.Do(req)
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.stats.dropped.Add(1)
		s.stats.retries.Add(1)
		s.bo.noteFailure()
		s.nextAttempt = now.Add(s.bo.next())
		return nil
	}
	s.bo.noteSuccess(now)
	return nil
}

// appendProjection writes the JSON object over the configured record
// fields, in configuration order. Primitive fields keep native JSON
// types; opaque payloads are rendered as strings.
func (s *httpSink) appendProjection(buf *Buffer, rec *Record) {
	buf.AppendByte('{')
	for i, name := range s.fields {
		if i > 0 {
			buf.AppendByte(',')
		}
		appendJSONString(buf, name)
		buf.AppendByte(':')
		s.appendFieldValue(buf, name, rec)
	}
	buf.AppendByte('}')
}

func (s *httpSink) appendFieldValue(buf *Buffer, name string, rec *Record) {
	switch name {
	case "name":
		appendJSONString(buf, rec.Name)
	case "levelname":
		appendJSONString(buf, rec.Level.String())
	case "level":
		buf.AppendInt(int64(rec.Level))
	case "message":
		appendJSONString(buf, rec.Message)
	case "asctime":
		buf.AppendByte('"')
		buf.AppendTime(rec.Time.UTC(), defaultDateLayout)
		buf.AppendByte('"')
	case "threadName":
		appendJSONString(buf, rec.threadLabel())
	case "filename":
		appendJSONString(buf, rec.Caller.File)
	case "lineno":
		buf.AppendInt(int64(rec.Caller.Line))
	case "exc_text":
		if rec.Exc == nil {
			buf.AppendString("null")
		} else {
			appendJSONString(buf, formatAny(rec.Exc))
		}
	case "stack_info":
		appendJSONString(buf, rec.Stack)
	case "fields":
		buf.AppendByte('{')
		first := true
		rec.EachField(func(f *Field) {
			if !first {
				buf.AppendByte(',')
			}
			first = false
			appendJSONString(buf, f.Key)
			buf.AppendByte(':')
			f.appendJSONValue(buf)
		})
		buf.AppendByte('}')
	}
}

func (s *httpSink) Flush() error { return nil }

func (s *httpSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
