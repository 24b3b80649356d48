package accessory

import (
	"fmt"
	"sync/atomic"

	"github.com/user/rangetag/logger"
	"github.com/user/rangetag/transport"
)

// minWriteLen is the floor for a negotiated write length. The BLE spec
// minimum MTU of 23 leaves 20 payload bytes after ATT overhead.
const minWriteLen = 20

// Chunk splits payload into sequential chunks of at most max bytes.
// Concatenating the chunks in order reconstructs the payload exactly.
func Chunk(payload []byte, max int) [][]byte {
	if max <= 0 {
		max = minWriteLen
	}
	if len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+max-1)/max)
	for offset := 0; offset < len(payload); offset += max {
		end := offset + max
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, payload[offset:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// WriteEngine fragments outbound payloads to the channel's negotiated
// maximum write length and issues one transport write per chunk, in order.
// It does not wait between chunks and does not retry; a write failure is
// surfaced to the caller and retries are caller policy.
type WriteEngine struct {
	writes atomic.Uint32 // chunks dispatched, for diagnostics/backpressure
}

// WriteChunked writes payload over ch in MTU-bounded chunks.
func (e *WriteEngine) WriteChunked(prefix string, ch transport.Characteristic, payload []byte) error {
	max := ch.MaxWriteLen()
	if max <= 0 {
		max = minWriteLen
	}

	chunks := Chunk(payload, max)
	for i, chunk := range chunks {
		if err := ch.Write(chunk); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		e.writes.Add(1)
		logger.Trace(prefix, "wrote chunk %d/%d (%d bytes, max=%d)", i+1, len(chunks), len(chunk), max)
	}
	return nil
}

// WriteCount returns the total number of chunk writes dispatched.
func (e *WriteEngine) WriteCount() uint32 {
	return e.writes.Load()
}
