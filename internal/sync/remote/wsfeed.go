// Package remote provides the websocket live-change feed.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/converso-app/backend/internal/logging"
)

// reconnectDelay gates feed reconnect attempts. Missing a notification is
// harmless: the periodic pull catches anything the feed dropped.
const reconnectDelay = 5 * time.Second

// Feed subscribes to the remote store's websocket change stream and hands
// decoded notifications to a handler. It reconnects forever until its
// context is cancelled.
type Feed struct {
	url     string
	token   string
	handler func(Notification)
}

// NewFeed creates a Feed. The handler runs on the read loop goroutine and
// must not block.
func NewFeed(url, token string, handler func(Notification)) *Feed {
	return &Feed{url: url, token: token, handler: handler}
}

// Run connects and consumes notifications until ctx is cancelled. Connection
// failures log and retry; they never abort the loop.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("Change feed disconnected", map[string]interface{}{
				"url":   f.url,
				"error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// consume holds one connection open and dispatches its notifications.
func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{}
	if f.token != "" {
		headers["Authorization"] = []string{"Bearer " + f.token}
	}

	conn, _, err := dialer.DialContext(ctx, f.url, headers)
	if err != nil {
		return err
	}
	defer conn.Close()

	logging.Info("Change feed connected", map[string]interface{}{"url": f.url})

	// Unblock the read loop on shutdown
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			// One garbled frame is not worth a reconnect
			logging.Warn("Dropping malformed change notification", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		f.handler(n)
	}
}
