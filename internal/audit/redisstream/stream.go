// Package redisstream publishes config audit entries to a Redis stream.
//
// It is the outbound-queue audit sink: downstream consumers (archivers,
// alerting) read the stream independently of the sync service. Entries are
// JSON in the "entry" field. The stream is trimmed approximately to MaxLen.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/cfgsync/internal/ir"
)

const (
	defaultStream = "cfgsync:audit"
	defaultMaxLen = 100000
	entryField    = "entry"
)

// Stream is an audit.Recorder backed by XADD.
type Stream struct {
	client   *goredis.Client
	owned    bool
	addr     string
	password string
	db       int
	stream   string
	maxLen   int64
}

// Option configures a Stream.
type Option func(*Stream)

// WithClient publishes through an existing client. The caller keeps
// ownership: New and Close never close it, and the address, password and DB
// options are ignored.
func WithClient(client *goredis.Client) Option {
	return func(s *Stream) {
		if client != nil {
			s.client = client
		}
	}
}

// WithPassword sets the AUTH password for the client New creates.
func WithPassword(password string) Option {
	return func(s *Stream) { s.password = password }
}

// WithDB selects the logical database for the client New creates.
func WithDB(db int) Option {
	return func(s *Stream) { s.db = db }
}

// WithStream sets the stream key. Blank keeps the default.
func WithStream(name string) Option {
	return func(s *Stream) {
		name = strings.TrimSpace(name)
		if name != "" {
			s.stream = name
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming). 0 keeps the default.
func WithMaxLen(n int64) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// New connects to Redis at addr and verifies the connection with PING.
// A client created here is closed again if the ping fails.
func New(addr string, opts ...Option) (*Stream, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	s := &Stream{
		addr:   addr,
		stream: defaultStream,
		maxLen: defaultMaxLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{Addr: s.addr, Password: s.password, DB: s.db})
		s.owned = true
	}
	if err := s.client.Ping(context.Background()).Err(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// Name returns the stream key.
func (s *Stream) Name() string {
	return s.stream
}

// Record appends e to the stream.
func (s *Stream) Record(ctx context.Context, e ir.AuditEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	err = s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{entryField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}

// Read returns up to count entries from the start of the stream.
// Messages that do not decode are skipped.
func (s *Stream) Read(ctx context.Context, count int64) ([]ir.AuditEntry, error) {
	if count <= 0 {
		count = 100
	}
	msgs, err := s.client.XRangeN(ctx, s.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}
	out := make([]ir.AuditEntry, 0, len(msgs))
	for _, msg := range msgs {
		payload, _ := msg.Values[entryField].(string)
		if payload == "" {
			continue
		}
		var e ir.AuditEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the client if New created it.
func (s *Stream) Close() error {
	if s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
