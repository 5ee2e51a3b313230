package testutils

import (
	"sync"
	"time"
)

// MockClock fires After immediately and advances CurrentTime by d.
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
