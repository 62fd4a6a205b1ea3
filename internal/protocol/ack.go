package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iat-probe/internal/iat"
)

// BufferSize is the fixed receive buffer for both transports
const BufferSize = 1024

// IATTag names the IAT field in acknowledgments; the value is in milliseconds
const IATTag = "IAT_ms"

const nullValue = "null"

var ErrMalformedAck = errors.New("malformed acknowledgment")

// Ack is a parsed server acknowledgment
type Ack struct {
	Index  int
	IAT    float64
	HasIAT bool
	Echo   string
}

func header(s iat.Sample) string {
	value := nullValue
	if !s.First {
		value = strconv.FormatFloat(s.Millis(), 'f', 2, 64)
	}
	return fmt.Sprintf("[P#%d] [%s: %s]", s.Index, IATTag, value)
}

// FormatTCPAck builds the newline-terminated response for one stream message
func FormatTCPAck(s iat.Sample) string {
	return header(s) + "\n"
}

// FormatUDPAck builds the datagram response. The original message is echoed
// after the metadata when it is not empty.
func FormatUDPAck(s iat.Sample, message string) string {
	if message == "" {
		return header(s)
	}
	return header(s) + " " + message
}

// ParseAck parses a TCP or UDP acknowledgment
func ParseAck(line string) (Ack, error) {
	var ack Ack

	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, "[P#")
	if !ok {
		return ack, fmt.Errorf("%w: missing packet index", ErrMalformedAck)
	}

	idx, rest, ok := strings.Cut(rest, "] [")
	if !ok {
		return ack, fmt.Errorf("%w: missing IAT field", ErrMalformedAck)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 1 {
		return ack, fmt.Errorf("%w: bad packet index %q", ErrMalformedAck, idx)
	}
	ack.Index = n

	rest, ok = strings.CutPrefix(rest, IATTag+": ")
	if !ok {
		return ack, fmt.Errorf("%w: missing %s tag", ErrMalformedAck, IATTag)
	}
	value, rest, ok := strings.Cut(rest, "]")
	if !ok {
		return ack, fmt.Errorf("%w: unterminated IAT field", ErrMalformedAck)
	}
	if value != nullValue {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return ack, fmt.Errorf("%w: bad IAT value %q", ErrMalformedAck, value)
		}
		ack.IAT = v
		ack.HasIAT = true
	}

	ack.Echo = strings.TrimPrefix(rest, " ")
	return ack, nil
}
