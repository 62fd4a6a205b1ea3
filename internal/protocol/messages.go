// Package protocol defines the acknowledgment wire format and the monitor
// feed events.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/iat-probe/internal/iat"
)

// Event types for the monitor feed
const (
	TypeSessionOpen  = "session_open"
	TypeSample       = "sample"
	TypeSessionClose = "session_close"
)

// Message is the base structure for all feed events
type Message struct {
	Type string `json:"type"`
}

// SessionOpenEvent announces a new session
type SessionOpenEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Transport string    `json:"transport"`
	Remote    string    `json:"remote"`
	Time      time.Time `json:"time"`
}

// SampleEvent carries one observed packet
type SampleEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Remote    string    `json:"remote"`
	Index     int       `json:"index"`
	IATMillis *float64  `json:"iat_ms"`
	Point     string    `json:"point"`
	Bytes     int       `json:"bytes"`
	Time      time.Time `json:"time"`
}

// SessionCloseEvent summarises a finished session
type SessionCloseEvent struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	Packets      int       `json:"packets"`
	MeanMillis   float64   `json:"iat_mean_ms"`
	JitterMillis float64   `json:"iat_jitter_ms"`
	Time         time.Time `json:"time"`
}

// NewSessionOpenEvent creates a session_open event
func NewSessionOpenEvent(sessionID, transport, remote string) *SessionOpenEvent {
	return &SessionOpenEvent{
		Type:      TypeSessionOpen,
		SessionID: sessionID,
		Transport: transport,
		Remote:    remote,
		Time:      time.Now(),
	}
}

// NewSampleEvent creates a sample event. The IAT is null for the first packet.
func NewSampleEvent(sessionID, remote string, s iat.Sample, size int) *SampleEvent {
	ev := &SampleEvent{
		Type:      TypeSample,
		SessionID: sessionID,
		Remote:    remote,
		Index:     s.Index,
		Point:     string(s.Point),
		Bytes:     size,
		Time:      s.At,
	}
	if !s.First {
		ms := s.Millis()
		ev.IATMillis = &ms
	}
	return ev
}

// NewSessionCloseEvent creates a session_close event
func NewSessionCloseEvent(sessionID string, packets int, mean, jitter time.Duration) *SessionCloseEvent {
	return &SessionCloseEvent{
		Type:         TypeSessionClose,
		SessionID:    sessionID,
		Packets:      packets,
		MeanMillis:   float64(mean) / float64(time.Millisecond),
		JitterMillis: float64(jitter) / float64(time.Millisecond),
		Time:         time.Now(),
	}
}

// ParseMessage parses a JSON event and returns its type
func ParseMessage(data []byte) (string, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", err
	}
	return msg.Type, nil
}

// ParseSampleEvent parses a sample event
func ParseSampleEvent(data []byte) (*SampleEvent, error) {
	var msg SampleEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != TypeSample {
		return nil, errors.New("invalid message type")
	}
	return &msg, nil
}

// ParseSessionOpenEvent parses a session_open event
func ParseSessionOpenEvent(data []byte) (*SessionOpenEvent, error) {
	var msg SessionOpenEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != TypeSessionOpen {
		return nil, errors.New("invalid message type")
	}
	return &msg, nil
}

// ParseSessionCloseEvent parses a session_close event
func ParseSessionCloseEvent(data []byte) (*SessionCloseEvent, error) {
	var msg SessionCloseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != TypeSessionClose {
		return nil, errors.New("invalid message type")
	}
	return &msg, nil
}
