package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/events"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/repository"
)

var ErrMockClosed = errors.New("mock client closed")

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	RawBytes []string // every outbound text frame, in order
	Closes   int      // close frames sent by the server
	Mu       sync.Mutex

	// FailAfter makes sends fail once this many frames were recorded (0 = never)
	FailAfter int
	// KeepOpenOnClose keeps Receive blocked after a close frame, like a
	// peer that never answers the closing handshake
	KeepOpenOnClose bool

	inbound  chan []byte
	peerGone chan struct{}
	closed   chan struct{}
	goneOnce sync.Once
	once     sync.Once
}

func NewMockClient(id string) *MockClient {
	return &MockClient{
		IDVal:    id,
		inbound:  make(chan []byte, 16),
		peerGone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.SendText(b)
}

func (m *MockClient) SendText(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	select {
	case <-m.closed:
		return ErrMockClosed
	case <-m.peerGone:
		return io.ErrClosedPipe
	default:
	}
	if m.FailAfter > 0 && len(m.RawBytes) >= m.FailAfter {
		return io.ErrClosedPipe
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return nil
}

func (m *MockClient) SendClose() error {
	m.Mu.Lock()
	m.Closes++
	m.Mu.Unlock()
	if !m.KeepOpenOnClose {
		m.Disconnect()
	}
	return nil
}

// Receive blocks until the test pushes a message, the peer goes away, or the
// server closes the connection.
func (m *MockClient) Receive() ([]byte, error) {
	select {
	case b := <-m.inbound:
		return b, nil
	case <-m.peerGone:
		return nil, io.EOF
	case <-m.closed:
		return nil, ErrMockClosed
	}
}

func (m *MockClient) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// Push delivers a client->server message.
func (m *MockClient) Push(b []byte) { m.inbound <- b }

// Disconnect simulates the browser going away.
func (m *MockClient) Disconnect() {
	m.goneOnce.Do(func() { close(m.peerGone) })
}

func (m *MockClient) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Frames decodes every recorded frame into a generic map.
func (m *MockClient) Frames() []map[string]interface{} {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	out := make([]map[string]interface{}, 0, len(m.RawBytes))
	for _, raw := range m.RawBytes {
		var f map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			f = map[string]interface{}{"raw": raw}
		}
		out = append(out, f)
	}
	return out
}

// ErrorFrames returns the messages of all {"error": ...} frames.
func (m *MockClient) ErrorFrames() []string {
	var out []string
	for _, f := range m.Frames() {
		if msg, ok := f["error"].(string); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockClient) FrameCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.RawBytes)
}

// WaitForFrames polls until at least n frames were recorded.
func (m *MockClient) WaitForFrames(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.FrameCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.FrameCount() >= n
}

// MockClock advances instantly; After fires immediately.
type MockClock struct {
	CurrentTime time.Time
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.Mu.Lock()
	m.CurrentTime = m.CurrentTime.Add(d)
	now := m.CurrentTime
	m.Mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockHandle records closes from the registry
type MockHandle struct {
	Closed int
	Mu     sync.Mutex
}

func (h *MockHandle) Close() error {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	h.Closed++
	return nil
}

func (h *MockHandle) CloseCount() int {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.Closed
}

// MockSessionStore simulates the Redis directory
type MockSessionStore struct {
	Sessions map[string]repository.SessionRecord // symbol -> record
	Puts     int
	Deletes  int
	Fail     bool
	Mu       sync.Mutex
}

func NewMockStore() *MockSessionStore {
	return &MockSessionStore{Sessions: make(map[string]repository.SessionRecord)}
}

func (m *MockSessionStore) PutSession(ctx context.Context, rec repository.SessionRecord) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return errors.New("store down")
	}
	m.Puts++
	m.Sessions[rec.Symbol] = rec
	return nil
}

func (m *MockSessionStore) DeleteSession(ctx context.Context, symbol, sessionID string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return errors.New("store down")
	}
	m.Deletes++
	if rec, ok := m.Sessions[symbol]; ok && rec.SessionID == sessionID {
		delete(m.Sessions, symbol)
	}
	return nil
}

func (m *MockSessionStore) ActiveSessions(ctx context.Context) ([]repository.SessionRecord, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]repository.SessionRecord, 0, len(m.Sessions))
	for _, rec := range m.Sessions {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MockSessionStore) Close() error { return nil }

func (m *MockSessionStore) Len() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Sessions)
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

func (m *MockKafkaWriter) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

type MockKafkaConn struct {
	CreatedTopics []string
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (events.KafkaConn, error) {
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
