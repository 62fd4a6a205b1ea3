package server

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/iat-probe/internal/iat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type closeCounter struct {
	mu     sync.Mutex
	closes int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// ============================================================================
// Session Tests
// ============================================================================

func TestSessionCreation(t *testing.T) {
	session := NewSession("tcp-1", "tcp", "127.0.0.1:5000", nil, DefaultConfig().Stats)

	if session.ID != "tcp-1" {
		t.Errorf("expected ID 'tcp-1', got %s", session.ID)
	}
	if session.Transport != "tcp" {
		t.Errorf("expected transport 'tcp', got %s", session.Transport)
	}
	if session.Packets() != 0 {
		t.Errorf("expected 0 packets, got %d", session.Packets())
	}
	if session.State() != iat.StateAwaitingFirst {
		t.Errorf("expected state awaiting_first_packet, got %s", session.State())
	}
}

func TestSessionObserve(t *testing.T) {
	session := NewSession("udp-1", "udp", "0.0.0.0:9000", nil, DefaultConfig().Stats)
	base := time.UnixMilli(0)

	first := session.Observe(base)
	if !first.First || first.Index != 1 {
		t.Errorf("expected first packet with index 1, got %+v", first)
	}
	if session.State() != iat.StateTracking {
		t.Errorf("expected state tracking, got %s", session.State())
	}

	second := session.Observe(base.Add(50 * time.Millisecond))
	if second.First || second.Index != 2 || second.IAT != 50*time.Millisecond {
		t.Errorf("unexpected second sample %+v", second)
	}

	third := session.Observe(base.Add(120 * time.Millisecond))
	if third.Index != 3 || third.IAT != 70*time.Millisecond {
		t.Errorf("unexpected third sample %+v", third)
	}

	if session.Packets() != 3 {
		t.Errorf("expected 3 packets, got %d", session.Packets())
	}

	mean, jitter := session.Jitter()
	if mean != 60*time.Millisecond {
		t.Errorf("expected mean 60ms, got %v", mean)
	}
	if jitter <= 0 {
		t.Errorf("expected positive jitter, got %v", jitter)
	}
}

func TestSessionClose(t *testing.T) {
	conn := &closeCounter{}
	session := NewSession("tcp-1", "tcp", "127.0.0.1:1", conn, DefaultConfig().Stats)

	session.Close()

	select {
	case <-session.Done:
	default:
		t.Error("expected Done channel to be closed")
	}
	if conn.count() != 1 {
		t.Errorf("expected connection closed once, got %d", conn.count())
	}
	if session.State() != iat.StateClosed {
		t.Errorf("expected state closed, got %s", session.State())
	}
}

func TestSessionDoubleClose(t *testing.T) {
	conn := &closeCounter{}
	session := NewSession("tcp-1", "tcp", "127.0.0.1:1", conn, DefaultConfig().Stats)

	session.Close()
	session.Close()

	if conn.count() != 1 {
		t.Errorf("expected connection closed once, got %d", conn.count())
	}
}

// ============================================================================
// SessionManager Tests
// ============================================================================

func TestSessionManagerAddRemove(t *testing.T) {
	manager := NewSessionManager(testLogger())
	session := NewSession(manager.NextID("tcp"), "tcp", "127.0.0.1:1", nil, DefaultConfig().Stats)

	if !manager.AddSession(session) {
		t.Fatal("expected add to succeed")
	}
	if manager.SessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", manager.SessionCount())
	}

	if got := manager.GetSession(session.ID); got != session {
		t.Error("expected to get the same session")
	}

	manager.RemoveSession(session.ID)
	if manager.SessionCount() != 0 {
		t.Errorf("expected 0 sessions, got %d", manager.SessionCount())
	}
	if manager.GetSession(session.ID) != nil {
		t.Error("expected nil after removal")
	}
	if session.State() != iat.StateClosed {
		t.Error("expected removed session to be closed")
	}
}

func TestSessionManagerNextID(t *testing.T) {
	manager := NewSessionManager(testLogger())

	ids := []string{manager.NextID("tcp"), manager.NextID("udp"), manager.NextID("tcp")}
	expected := []string{"tcp-1", "udp-2", "tcp-3"}
	for i := range ids {
		if ids[i] != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], ids[i])
		}
	}
}

func TestSessionManagerGetAllSessionsOrdered(t *testing.T) {
	manager := NewSessionManager(testLogger())

	for _, id := range []string{"tcp-3", "tcp-1", "tcp-2"} {
		manager.AddSession(NewSession(id, "tcp", "", nil, DefaultConfig().Stats))
	}

	sessions := manager.GetAllSessions()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, id := range []string{"tcp-1", "tcp-2", "tcp-3"} {
		if sessions[i].ID != id {
			t.Errorf("expected %s at position %d, got %s", id, i, sessions[i].ID)
		}
	}
}

func TestSessionManagerCloseAll(t *testing.T) {
	manager := NewSessionManager(testLogger())

	var conns []*closeCounter
	for i := 0; i < 4; i++ {
		conn := &closeCounter{}
		conns = append(conns, conn)
		manager.AddSession(NewSession(manager.NextID("tcp"), "tcp", "", conn, DefaultConfig().Stats))
	}

	manager.CloseAll()

	if manager.SessionCount() != 0 {
		t.Errorf("expected 0 sessions after CloseAll, got %d", manager.SessionCount())
	}
	for i, conn := range conns {
		if conn.count() != 1 {
			t.Errorf("expected connection %d closed once, got %d", i, conn.count())
		}
	}

	late := &closeCounter{}
	if manager.AddSession(NewSession("tcp-late", "tcp", "", late, DefaultConfig().Stats)) {
		t.Error("expected add after CloseAll to be rejected")
	}
	if late.count() != 1 {
		t.Error("expected rejected session to be closed")
	}
}

func TestSessionManagerRemoveNonExistent(t *testing.T) {
	manager := NewSessionManager(testLogger())
	// Should not panic
	manager.RemoveSession("missing")
}

func TestSessionManagerConcurrentAccess(t *testing.T) {
	manager := NewSessionManager(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("tcp-%d", i)
			manager.AddSession(NewSession(id, "tcp", "", nil, DefaultConfig().Stats))
			manager.GetSession(id)
			manager.GetAllSessions()
			manager.SessionCount()
			if i%2 == 0 {
				manager.RemoveSession(id)
			}
		}(i)
	}
	wg.Wait()

	if manager.SessionCount() != 25 {
		t.Errorf("expected 25 sessions, got %d", manager.SessionCount())
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkSessionManagerAddRemove(b *testing.B) {
	manager := NewSessionManager(testLogger())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		session := NewSession(manager.NextID("tcp"), "tcp", "", nil, DefaultConfig().Stats)
		manager.AddSession(session)
		manager.RemoveSession(session.ID)
	}
}

func BenchmarkSessionObserve(b *testing.B) {
	session := NewSession("tcp-1", "tcp", "", nil, DefaultConfig().Stats)
	at := time.Unix(0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		at = at.Add(time.Millisecond)
		session.Observe(at)
	}
}
