package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
)

// eventTimeout bounds the storage work behind a single client event.
const eventTimeout = 10 * time.Second

// RealtimeOptions configure both live transports.
type RealtimeOptions struct {
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (o RealtimeOptions) pingInterval() time.Duration {
	if o.PingInterval <= 0 {
		return 25 * time.Second
	}
	return o.PingInterval
}

// dispatchEvent decodes a raw client event and runs it through the broker.
// The returned value is the ack payload, if any.
func dispatchEvent(b *broker.Broker, sess broker.Session, name string, raw json.RawMessage) interface{} {
	ev, err := broker.DecodeClientEvent(name, raw)
	if err != nil {
		b.Reject(sess, name, err)
		if name == broker.EventSendMessage {
			return broker.SendAck{Error: err.Error(), Code: apperrors.KindOf(err)}
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	return b.Handle(ctx, sess, ev)
}

// credentialFrom reads the bearer token from the query string or the Authorization header.
func credentialFrom(query url.Values, header http.Header) string {
	for _, key := range []string{"token", "auth_token"} {
		if v := query.Get(key); v != "" {
			return v
		}
	}
	return strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
}

// originChecker accepts requests without an Origin header (native clients) and listed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}
