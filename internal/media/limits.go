package media

import (
	"fmt"
	"io"
)

// MaxPayloadBytes is the largest body accepted from a provider, sized
// generously above WhatsApp's own media ceiling.
const MaxPayloadBytes int64 = 64 * 1024 * 1024

// ReadAllWithLimit reads from reader and rejects payloads larger than
// maxBytes. Provider responses are attacker-influenced, so every read
// from one goes through a cap.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{
		R: reader,
		N: maxBytes + 1,
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
