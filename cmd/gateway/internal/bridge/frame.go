package bridge

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
)

// classifyRead turns a failed upstream read into a terminal error. A close
// frame from the feed is a clean end. A dropped socket (1006), an idle
// timeout, or a malformed frame is a protocol error.
func classifyRead(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return fmt.Errorf("%w: %v", failure.ErrUpstreamClosed, err)
	}
	return fmt.Errorf("%w: %v", failure.ErrUpstreamProtocol, err)
}
