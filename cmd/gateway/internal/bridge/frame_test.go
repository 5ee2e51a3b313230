package bridge

import (
	"errors"
	"io"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
)

func TestClassifyRead(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, failure.UpstreamClosed},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, failure.UpstreamClosed},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "bad token"}, failure.UpstreamClosed},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, failure.UpstreamProtocolError},
		{"eof", io.ErrUnexpectedEOF, failure.UpstreamProtocolError},
		{"other", errors.New("bad rsv bits"), failure.UpstreamProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failure.Classify(classifyRead(tt.err)); got != tt.want {
				t.Errorf("classifyRead(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
