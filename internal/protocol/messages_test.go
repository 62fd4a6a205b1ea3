package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/iat-probe/internal/iat"
)

// ============================================================================
// Event Constructor Tests
// ============================================================================

func TestNewSessionOpenEvent(t *testing.T) {
	ev := NewSessionOpenEvent("tcp-1", "tcp", "127.0.0.1:5000")

	if ev.Type != TypeSessionOpen {
		t.Errorf("expected type %s, got %s", TypeSessionOpen, ev.Type)
	}
	if ev.SessionID != "tcp-1" {
		t.Errorf("expected session 'tcp-1', got %s", ev.SessionID)
	}
	if ev.Transport != "tcp" {
		t.Errorf("expected transport 'tcp', got %s", ev.Transport)
	}
	if ev.Remote != "127.0.0.1:5000" {
		t.Errorf("expected remote '127.0.0.1:5000', got %s", ev.Remote)
	}
	if ev.Time.IsZero() {
		t.Error("expected time to be set")
	}
}

func TestNewSampleEventFirstPacket(t *testing.T) {
	s := iat.Sample{Index: 1, At: time.UnixMilli(1000), First: true, Point: iat.PointRecv}
	ev := NewSampleEvent("udp-1", "10.0.0.2:4000", s, 4)

	if ev.Type != TypeSample {
		t.Errorf("expected type %s, got %s", TypeSample, ev.Type)
	}
	if ev.IATMillis != nil {
		t.Errorf("expected null IAT, got %v", *ev.IATMillis)
	}
	if ev.Index != 1 {
		t.Errorf("expected index 1, got %d", ev.Index)
	}
	if ev.Point != "recv" {
		t.Errorf("expected point 'recv', got %s", ev.Point)
	}
	if ev.Bytes != 4 {
		t.Errorf("expected 4 bytes, got %d", ev.Bytes)
	}
}

func TestNewSampleEventWithIAT(t *testing.T) {
	s := iat.Sample{Index: 2, At: time.UnixMilli(1050), IAT: 50 * time.Millisecond, Point: iat.PointRecv}
	ev := NewSampleEvent("udp-1", "10.0.0.2:4000", s, 4)

	if ev.IATMillis == nil {
		t.Fatal("expected IAT to be set")
	}
	if *ev.IATMillis != 50 {
		t.Errorf("expected IAT 50, got %v", *ev.IATMillis)
	}
}

func TestNewSessionCloseEvent(t *testing.T) {
	ev := NewSessionCloseEvent("tcp-3", 10, 25*time.Millisecond, 1500*time.Microsecond)

	if ev.Type != TypeSessionClose {
		t.Errorf("expected type %s, got %s", TypeSessionClose, ev.Type)
	}
	if ev.Packets != 10 {
		t.Errorf("expected 10 packets, got %d", ev.Packets)
	}
	if ev.MeanMillis != 25 {
		t.Errorf("expected mean 25, got %v", ev.MeanMillis)
	}
	if ev.JitterMillis != 1.5 {
		t.Errorf("expected jitter 1.5, got %v", ev.JitterMillis)
	}
}

// ============================================================================
// Parse Tests
// ============================================================================

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"session open", `{"type":"session_open","session_id":"x"}`, TypeSessionOpen},
		{"sample", `{"type":"sample","index":3}`, TypeSample},
		{"session close", `{"type":"session_close"}`, TypeSessionClose},
		{"unknown type", `{"type":"bogus"}`, "bogus"},
		{"missing type", `{"index":1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, err := ParseMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tt.expected {
				t.Errorf("expected type %q, got %q", tt.expected, msgType)
			}
		})
	}
}

func TestParseMessageInvalidJSON(t *testing.T) {
	invalid := []string{
		"",
		"{",
		"not json",
		`{"type":}`,
	}

	for _, input := range invalid {
		if _, err := ParseMessage([]byte(input)); err == nil {
			t.Errorf("expected error for input %q", input)
		}
	}
}

func TestParseSampleEventRoundTrip(t *testing.T) {
	s := iat.Sample{Index: 7, At: time.UnixMilli(5000), IAT: 12345 * time.Microsecond, Point: iat.PointRecv}
	data, err := json.Marshal(NewSampleEvent("tcp-9", "1.2.3.4:5", s, 10))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	parsed, err := ParseSampleEvent(data)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if parsed.Index != 7 {
		t.Errorf("expected index 7, got %d", parsed.Index)
	}
	if parsed.IATMillis == nil || *parsed.IATMillis != 12.345 {
		t.Errorf("expected IAT 12.345, got %v", parsed.IATMillis)
	}
	if !parsed.Time.Equal(s.At) {
		t.Errorf("expected time %v, got %v", s.At, parsed.Time)
	}
}

func TestParseSampleEventNullIAT(t *testing.T) {
	parsed, err := ParseSampleEvent([]byte(`{"type":"sample","index":1,"iat_ms":null}`))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if parsed.IATMillis != nil {
		t.Errorf("expected null IAT, got %v", *parsed.IATMillis)
	}
}

func TestParseEventsWrongType(t *testing.T) {
	data := []byte(`{"type":"bogus"}`)

	if _, err := ParseSampleEvent(data); err == nil {
		t.Error("expected error for wrong sample type")
	}
	if _, err := ParseSessionOpenEvent(data); err == nil {
		t.Error("expected error for wrong session_open type")
	}
	if _, err := ParseSessionCloseEvent(data); err == nil {
		t.Error("expected error for wrong session_close type")
	}
}

func TestParseSessionEvents(t *testing.T) {
	open, _ := json.Marshal(NewSessionOpenEvent("udp-0.0.0.0:9000", "udp", "0.0.0.0:9000"))
	parsedOpen, err := ParseSessionOpenEvent(open)
	if err != nil {
		t.Fatalf("failed to parse session_open: %v", err)
	}
	if parsedOpen.Transport != "udp" {
		t.Errorf("expected transport 'udp', got %s", parsedOpen.Transport)
	}

	closed, _ := json.Marshal(NewSessionCloseEvent("udp-0.0.0.0:9000", 3, 0, 0))
	parsedClose, err := ParseSessionCloseEvent(closed)
	if err != nil {
		t.Fatalf("failed to parse session_close: %v", err)
	}
	if parsedClose.Packets != 3 {
		t.Errorf("expected 3 packets, got %d", parsedClose.Packets)
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkParseMessage(b *testing.B) {
	data := []byte(`{"type":"sample","session_id":"tcp-1","index":42,"iat_ms":12.5}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(data)
	}
}

func BenchmarkJSONMarshalSample(b *testing.B) {
	s := iat.Sample{Index: 2, IAT: time.Millisecond, Point: iat.PointRecv}
	ev := NewSampleEvent("tcp-1", "127.0.0.1:1", s, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		json.Marshal(ev)
	}
}
