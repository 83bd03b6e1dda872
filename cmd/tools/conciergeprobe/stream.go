package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

type streamFrame struct {
	Delta string `json:"delta"`
	Error bool   `json:"error"`
}

// readStream consumes `data:` frames until [DONE] or EOF and returns the
// concatenated reply. failed is set when the server sent an error frame.
func readStream(r io.Reader, onDelta func(string)) (reply string, failed bool, err error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return b.String(), failed, nil
		}

		var frame streamFrame
		if err := sonic.ConfigStd.UnmarshalFromString(data, &frame); err != nil {
			return b.String(), failed, fmt.Errorf("decode frame %q: %w", data, err)
		}
		if frame.Error {
			failed = true
			continue
		}
		b.WriteString(frame.Delta)
		if onDelta != nil {
			onDelta(frame.Delta)
		}
	}
	return b.String(), failed, scanner.Err()
}
