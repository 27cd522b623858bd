package invoke

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// DialGateway opens a WebSocket to the runtime gateway, authenticating with
// token when set, and closes it cleanly. It returns the handshake latency.
func DialGateway(ctx context.Context, url, token string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if token = strings.TrimSpace(token); token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	start := time.Now()
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return 0, fmt.Errorf("gateway %s rejected the token (%d): %w", url, resp.StatusCode, err)
		}
		return 0, fmt.Errorf("dial gateway %s: %w", url, err)
	}
	latency := time.Since(start)
	// The handshake already proved reachability.
	_ = conn.Close(websocket.StatusNormalClosure, "check done")
	return latency, nil
}
