// Package aitest provides an in-memory chat model for tests.
package aitest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ model.BaseChatModel = (*FakeModel)(nil)

// FakeModel replays scripted chunks through eino streams.
type FakeModel struct {
	// Chunks are streamed in order; Usage rides on the last one.
	Chunks []string
	Usage  *schema.TokenUsage

	// OpenErr fails Stream before any chunk.
	OpenErr error
	// MidErr is sent after FailAfter chunks.
	MidErr    error
	FailAfter int
	// Endless keeps sending filler chunks until the reader is closed.
	Endless bool

	// Reply and GenerateErrs script Generate; errors are consumed in order.
	Reply        string
	GenerateErrs []error
	// NilReply makes Generate return neither message nor error.
	NilReply bool

	mu            sync.Mutex
	generateCalls int
	streamCalls   int
	lastInput     []*schema.Message
	lastOptions   *model.Options
	aborted       atomic.Bool
}

// Generate implements model.BaseChatModel.
func (f *FakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(input, opts)
	call := f.generateCalls
	f.generateCalls++
	if call < len(f.GenerateErrs) && f.GenerateErrs[call] != nil {
		return nil, f.GenerateErrs[call]
	}
	if f.NilReply {
		return nil, nil
	}

	msg := schema.AssistantMessage(f.Reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: f.Usage}
	return msg, nil
}

// Stream implements model.BaseChatModel.
func (f *FakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.record(input, opts)
	f.streamCalls++
	f.mu.Unlock()

	if f.OpenErr != nil {
		return nil, f.OpenErr
	}

	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		for i, chunk := range f.Chunks {
			if f.MidErr != nil && i == f.FailAfter {
				sw.Send(nil, f.MidErr)
				return
			}
			msg := schema.AssistantMessage(chunk, nil)
			if i == len(f.Chunks)-1 && f.Usage != nil {
				msg.ResponseMeta = &schema.ResponseMeta{Usage: f.Usage}
			}
			if closed := sw.Send(msg, nil); closed {
				f.aborted.Store(true)
				return
			}
		}
		if f.MidErr != nil && f.FailAfter >= len(f.Chunks) {
			sw.Send(nil, f.MidErr)
			return
		}
		for f.Endless {
			select {
			case <-ctx.Done():
				f.aborted.Store(true)
				return
			case <-time.After(5 * time.Millisecond):
			}
			if closed := sw.Send(schema.AssistantMessage(".", nil), nil); closed {
				f.aborted.Store(true)
				return
			}
		}
	}()
	return sr, nil
}

func (f *FakeModel) record(input []*schema.Message, opts []model.Option) {
	f.lastInput = input
	f.lastOptions = model.GetCommonOptions(nil, opts...)
}

// StreamCalls reports how many times Stream was invoked.
func (f *FakeModel) StreamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls
}

// GenerateCalls reports how many times Generate was invoked.
func (f *FakeModel) GenerateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

// LastInput returns the messages of the most recent call.
func (f *FakeModel) LastInput() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

// LastOptions returns the resolved options of the most recent call.
func (f *FakeModel) LastOptions() *model.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}

// Aborted reports whether the consumer stopped reading before the end.
func (f *FakeModel) Aborted() bool {
	return f.aborted.Load()
}
