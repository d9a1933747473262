package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/nekokan/musicwa/internal/document"
)

type feedMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Subscribe connects to the server's change feed and calls fn for every
// document change until ctx is done or the connection drops. It returns nil
// when ctx is canceled.
func (c *Client) Subscribe(ctx context.Context, fn func(document.Change)) error {
	u := *c.base
	u.Path = c.base.Path + "/ws"
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

	header := http.Header{}
	if c.config.SessionID != "" {
		header.Set(SessionHeader, c.config.SessionID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	cancel()
	if err != nil {
		return fmt.Errorf("%w: connect change feed: %v", document.ErrIO, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("%w: change feed: %v", document.ErrIO, err)
		}

		var msg feedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.config.Logger.Printf("Ignoring malformed feed message: %v", err)
			continue
		}
		if msg.Type != "document_changed" {
			continue
		}
		var change document.Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			c.config.Logger.Printf("Ignoring malformed change: %v", err)
			continue
		}
		fn(change)
	}
}
