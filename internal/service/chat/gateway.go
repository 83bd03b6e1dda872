package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/islandproperties/concierge/backend/internal/model/chat"
	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
	"github.com/islandproperties/concierge/backend/internal/model/persona"
	"github.com/islandproperties/concierge/backend/internal/service/ai"
	"github.com/islandproperties/concierge/backend/internal/service/prompt"
	"github.com/islandproperties/concierge/backend/internal/service/session"
)

var (
	// ErrUpstream means the model call failed and was counted against the
	// session circuit breaker.
	ErrUpstream = errors.New("upstream model failed")
	// ErrAborted means the visitor went away before the reply finished.
	ErrAborted = errors.New("turn aborted by client")

	errEmptyResponse = errors.New("model returned no message")
)

// MaxPropertyContextChars caps the listing text forwarded into the prompt.
const MaxPropertyContextChars = 4000

// AnonymousSession is used when the caller sends no session id.
const AnonymousSession = "anonymous"

// State is the lifecycle position of one turn.
type State string

const (
	StateIdle         State = "idle"
	StateAdmitted     State = "admitted"
	StateKBLookup     State = "kb-lookup"
	StateStreaming    State = "upstream-streaming"
	StateRelaying     State = "relaying"
	StateCompleted    State = "completed"
	StateErrorRelayed State = "error-relayed"
	StateAborted      State = "aborted"
)

// Searcher supplies knowledge-base context; it must degrade to "".
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// CostSink accepts usage reports without blocking.
type CostSink interface {
	Submit(u costmodel.Usage)
}

// Options tune the gateway.
type Options struct {
	Enabled       bool
	HistoryWindow int
	RetryAttempts int
	RetryDelay    time.Duration
}

// Deps are the collaborators of the gateway. Knowledge and Costs may be nil.
type Deps struct {
	LLM       *ai.Service
	Sessions  *session.Store
	Guard     *prompt.Guard
	Composer  *prompt.Composer
	Knowledge Searcher
	Costs     CostSink
}

// Gateway runs the admission pipeline in front of the model.
type Gateway struct {
	deps Deps
	opts Options
}

// NewGateway wires the pipeline. A nil LLM keeps the gateway in offline mode.
func NewGateway(deps Deps, opts Options) *Gateway {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 8
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if deps.Guard == nil {
		deps.Guard = prompt.NewGuard(prompt.DefaultMaxInputChars)
	}
	if deps.Composer == nil {
		deps.Composer = prompt.NewComposer()
	}
	return &Gateway{deps: deps, opts: opts}
}

// Streaming reports whether turns should be relayed as SSE.
func (g *Gateway) Streaming() bool {
	return g.deps.LLM != nil && g.deps.LLM.StreamingEnabled()
}

// Begin runs kill switch, length cap, filter, admission, knowledge lookup and
// prompt composition. Exactly one of the results is non-nil: a Turn ready for
// the model, or a canned Reply.
func (g *Gateway) Begin(ctx context.Context, p persona.Persona, req chat.Request) (*Turn, *chat.Reply) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = AnonymousSession
	}
	replies := p.RepliesFor(prompt.DetectLanguage(req.Message))
	canned := func(text string) *chat.Reply {
		return &chat.Reply{Reply: text, SessionID: sessionID}
	}

	if !g.opts.Enabled || g.deps.LLM == nil {
		return nil, canned(replies.Offline)
	}

	inspection := g.deps.Guard.Inspect(req.Message)
	switch inspection.Verdict {
	case prompt.VerdictClean:
	case prompt.VerdictTooLong:
		log.Printf("[chat] persona=%s session=%s rejected: %d chars over limit", p.ID, sessionID, utf8.RuneCountInString(req.Message))
		reply := canned(replies.TooLong)
		reply.Filtered = true
		return nil, reply
	default:
		log.Printf("[chat] persona=%s session=%s filtered: verdict=%s", p.ID, sessionID, inspection.Verdict)
		reply := canned(replies.Redirect)
		reply.Filtered = true
		return nil, reply
	}

	key := p.ID + ":" + sessionID
	decision := g.deps.Sessions.Admit(key)
	if !decision.Allowed {
		log.Printf("[chat] persona=%s session=%s rejected: %s", p.ID, sessionID, decision.Reason)
		remaining := decision.Remaining
		switch decision.Reason {
		case session.ReasonQuotaExceeded:
			reply := canned(replies.QuotaExceeded)
			reply.RateLimited = true
			reply.RemainingMessages = &remaining
			return nil, reply
		default:
			reply := canned(replies.CircuitOpen)
			reply.CircuitOpen = true
			reply.RemainingMessages = &remaining
			return nil, reply
		}
	}

	turn := &Turn{
		gateway:   g,
		key:       key,
		sessionID: sessionID,
		personaID: p.ID,
		replies:   replies,
		remaining: decision.Remaining,
		state:     StateAdmitted,
	}

	turn.setState(StateKBLookup)
	var kbContext string
	if g.deps.Knowledge != nil {
		kbContext = g.deps.Knowledge.Search(ctx, inspection.Sanitized)
	}

	history, dropped := g.deps.Guard.History(req.History, g.opts.HistoryWindow)
	if dropped > 0 {
		log.Printf("[chat] persona=%s session=%s dropped %d history turns", p.ID, sessionID, dropped)
	}

	system := g.deps.Composer.Compose(p, prompt.Truncate(req.PropertyContext, MaxPropertyContextChars), kbContext)
	input, err := g.deps.Composer.Messages(ctx, system, history, inspection.Sanitized, g.opts.HistoryWindow)
	if err != nil {
		log.Printf("[chat] persona=%s session=%s prompt error: %v", p.ID, sessionID, err)
		reply := turn.FallbackReply()
		return nil, &reply
	}
	turn.input = input
	return turn, nil
}

// Turn is one admitted exchange waiting for the model.
type Turn struct {
	gateway   *Gateway
	key       string
	sessionID string
	personaID string
	replies   persona.Replies
	remaining int
	input     []*schema.Message

	mu    sync.Mutex
	state State
}

// SessionID is the caller-visible session id.
func (t *Turn) SessionID() string {
	return t.sessionID
}

// Remaining is the number of messages left in the session window.
func (t *Turn) Remaining() int {
	return t.remaining
}

// Input returns the composed model input.
func (t *Turn) Input() []*schema.Message {
	return t.input
}

// State reports where the turn is in its lifecycle.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// FallbackReply is the generic answer used when the model cannot respond.
func (t *Turn) FallbackReply() chat.Reply {
	remaining := t.remaining
	return chat.Reply{
		Reply:             t.replies.Generic,
		SessionID:         t.sessionID,
		RemainingMessages: &remaining,
	}
}

// Stream relays the model reply through emit one non-empty delta at a time.
// Upstream failures are counted and reported as ErrUpstream; a cancelled
// context or failing emit aborts the upstream without counting a failure.
func (t *Turn) Stream(ctx context.Context, emit func(delta string) error) error {
	g := t.gateway
	t.setState(StateStreaming)

	stream, err := g.deps.LLM.Stream(ctx, t.input)
	if err != nil {
		if ctx.Err() != nil {
			t.abort(nil)
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return t.fail(err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if ctx.Err() != nil {
			t.abort(chunks)
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t.fail(err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}

		t.setState(StateRelaying)
		if err := emit(chunk.Content); err != nil {
			t.abort(chunks)
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
	}

	g.deps.Sessions.RecordSuccess(t.key)
	t.setState(StateCompleted)
	t.submitUsage(chunks, "")
	return nil
}

// Generate asks for the whole reply, retrying with linear backoff before
// counting a failure.
func (t *Turn) Generate(ctx context.Context) (chat.Reply, error) {
	g := t.gateway
	t.setState(StateStreaming)

	var lastErr error
	for attempt := 1; attempt <= g.opts.RetryAttempts; attempt++ {
		msg, err := g.deps.LLM.Generate(ctx, t.input)
		if err == nil && msg == nil {
			err = errEmptyResponse
		}
		if err == nil {
			g.deps.Sessions.RecordSuccess(t.key)
			t.setState(StateCompleted)
			t.submitUsage([]*schema.Message{msg}, "")

			reply := t.FallbackReply()
			if text := strings.TrimSpace(msg.Content); text != "" {
				reply.Reply = text
			}
			return reply, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			t.abort(nil)
			return t.FallbackReply(), fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		log.Printf("[chat] session=%s attempt %d/%d failed: %v", t.sessionID, attempt, g.opts.RetryAttempts, err)

		if attempt < g.opts.RetryAttempts {
			select {
			case <-ctx.Done():
				t.abort(nil)
				return t.FallbackReply(), fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			case <-time.After(time.Duration(attempt) * g.opts.RetryDelay):
			}
		}
	}

	return t.FallbackReply(), t.fail(lastErr)
}

func (t *Turn) fail(cause error) error {
	streak := t.gateway.deps.Sessions.RecordFailure(t.key)
	t.setState(StateErrorRelayed)
	log.Printf("[chat] persona=%s session=%s upstream failure (streak=%d): %v", t.personaID, t.sessionID, streak, cause)
	return fmt.Errorf("%w: %v", ErrUpstream, cause)
}

func (t *Turn) abort(chunks []*schema.Message) {
	t.setState(StateAborted)
	log.Printf("[chat] persona=%s session=%s aborted by client", t.personaID, t.sessionID)
	t.submitUsage(chunks, "aborted")
}

// submitUsage reports token usage from the concatenated reply, estimating
// from text length when the backend sent no usage metadata.
func (t *Turn) submitUsage(chunks []*schema.Message, note string) {
	g := t.gateway
	if g.deps.Costs == nil {
		return
	}

	var (
		input, output int
		text          string
		found         bool
	)
	if len(chunks) > 0 {
		if full, err := schema.ConcatMessages(chunks); err == nil && full != nil {
			text = full.Content
			if full.ResponseMeta != nil && full.ResponseMeta.Usage != nil {
				input = full.ResponseMeta.Usage.PromptTokens
				output = full.ResponseMeta.Usage.CompletionTokens
				found = true
			}
		}
	}
	if !found {
		input = estimateTokens(t.input)
		output = utf8.RuneCountInString(text) / 4
		if note == "" {
			note = "estimated"
		}
	}

	g.deps.Costs.Submit(costmodel.Usage{
		Source:       costmodel.SourceChat,
		Model:        g.deps.LLM.ModelName(),
		SessionID:    t.sessionID,
		InputTokens:  input,
		OutputTokens: output,
		Note:         note,
	})
}

// estimateTokens approximates four characters per token.
func estimateTokens(msgs []*schema.Message) int {
	chars := 0
	for _, m := range msgs {
		if m != nil {
			chars += utf8.RuneCountInString(m.Content)
		}
	}
	return chars / 4
}
