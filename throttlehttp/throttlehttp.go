// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package throttlehttp admits or refuses HTTP requests with a throttle.Store.
// Middleware works with net/http and any router that accepts
// func(http.Handler) http.Handler, such as chi.
package throttlehttp

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	throttle "github.com/plsmphnx/go-throttle"
)

type (
	// KeyFunc extracts the rate-limiting key from a request. Returning nil
	// means the caller cannot be identified, and the request is refused.
	KeyFunc func(*http.Request) []byte

	// Rule is a quota applied to every request passing through a Middleware.
	Rule struct {
		// Name prefixes every key, length first, so that rules sharing a
		// limit and period still count separately. It may be empty.
		Name string

		// Limit is the number of requests admitted per Period for each key.
		Limit int64

		// Period is the time over which Limit tokens are returned.
		Period time.Duration

		// Key identifies the caller; KeyByRemoteIP when nil.
		Key KeyFunc
	}

	// Option configures a Middleware or Stats handler.
	Option func(*options)

	options struct {
		logger *zap.Logger
		clock  func() time.Time
	}

	// Call is the throttle.Call for a single request.
	Call struct {
		// ID identifies the request in logs.
		ID    string
		clock func() time.Time
	}
)

// WithLogger sets the logger for refused requests and failed writes.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now as the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewCall builds the Call for r. The request id is taken from chi's RequestID
// middleware or the X-Request-Id header, and generated when neither is set.
func NewCall(r *http.Request, clock func() time.Time) *Call {
	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get(middleware.RequestIDHeader)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Call{ID: id, clock: clock}
}

// Now reads the clock. It is read at the moment the store asks, not when the
// request arrived.
func (c *Call) Now() time.Time {
	return c.clock()
}

// KeyByRemoteIP keys requests by client address, without the port. Put chi's
// RealIP middleware in front to honour forwarding headers.
func KeyByRemoteIP(r *http.Request) []byte {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return nil
	}
	return []byte(host)
}

// KeyByHeader keys requests by the first value of a header. Requests without
// the header are refused; an empty value is still a key.
func KeyByHeader(name string) KeyFunc {
	name = textproto.CanonicalMIMEHeaderKey(name)
	return func(r *http.Request) []byte {
		values, ok := r.Header[name]
		if !ok || len(values) == 0 {
			return nil
		}
		return []byte(values[0])
	}
}

// Middleware refuses requests over the rule's quota with 429 Too Many
// Requests and a Retry-After of one period.
func Middleware(store *throttle.Store, rule Rule, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)
	keyOf := rule.Key
	if keyOf == nil {
		keyOf = KeyByRemoteIP
	}
	retryAfter := strconv.FormatInt(int64((rule.Period+time.Second-1)/time.Second), 10)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call := NewCall(r, o.clock)
			key := keyOf(r)
			if key != nil {
				key = append(append(binary.AppendUvarint(nil, uint64(len(rule.Name))), rule.Name...), key...)
			}

			if store.IsDenied(call, key, rule.Limit, rule.Period) {
				o.logger.Debug("request throttled",
					zap.String("request_id", call.ID),
					zap.String("rule", rule.Name),
					zap.Bool("identified", key != nil),
				)
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Stats serves a snapshot of the counters as JSON.
func Stats(counters *throttle.Counters, opts ...Option) http.Handler {
	o := newOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(counters.Snapshot()); err != nil {
			o.logger.Debug("stats not written",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
		}
	})
}

func newOptions(opts []Option) *options {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
