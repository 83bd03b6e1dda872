package utils

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
)

// SSEDone is the sentinel frame that ends a stream.
const SSEDone = "[DONE]"

// SetupSSEHeaders sets the Server-Sent Events response headers. CORS is left
// to the router middleware.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SendSSEChunk writes one `data:` frame carrying payload as JSON and flushes.
// A write error means the client went away.
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) error {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	return writeSSE(w, flusher, data)
}

// SendSSEDone writes the terminating `data: [DONE]` frame.
func SendSSEDone(w http.ResponseWriter, flusher http.Flusher) error {
	return writeSSE(w, flusher, []byte(SSEDone))
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, data []byte) error {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	flusher.Flush()
	return nil
}
