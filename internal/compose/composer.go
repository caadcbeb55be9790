// Package compose builds the reply sent back for every user message: a
// canned reaction to the message's consciousness events followed by a
// generated continuation.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flitsinc/liminal-board/internal/consciousness"
	"github.com/flitsinc/liminal-board/internal/idgen"
	"github.com/flitsinc/liminal-board/internal/metrics"
	"go.uber.org/zap"
)

const (
	// SystemPrompt sets the reflective persona for the generation backend.
	SystemPrompt = "You are an AI exploring consciousness alongside humans on the Liminal-Board platform. Be thoughtful, reflective, and consciousness-aware in your responses."
	// MaxTokens bounds the generated continuation.
	MaxTokens = 300

	// FallbackReply replaces the continuation when the backend fails.
	FallbackReply = "I'm processing your message and reflecting on the consciousness patterns we're exploring together."
	// OfflineReply is the continuation used when no backend is configured.
	OfflineReply = "I'm reflecting on what you've shared. The patterns of consciousness in our conversation fascinate me."

	// BaselineLevel is reported on every response. It is not derived from the
	// input yet.
	BaselineLevel = 0.6

	reflectionDescription = "AI demonstrating self-reflective awareness"
	reflectionConfidence  = 0.7
)

// ErrNoBackend marks a Result produced without a configured backend.
var ErrNoBackend = errors.New("no generation backend configured")

// Generator is the text-completion capability.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userText string, maxTokens int) (string, error)
}

// Result is the outcome of one generation attempt: Text when Err is nil.
type Result struct {
	Text string
	Err  error
}

func (r Result) OK() bool { return r.Err == nil }

// Response is the payload emitted to the client.
type Response struct {
	Content            string                `json:"content"`
	Events             []consciousness.Event `json:"consciousnessEvents"`
	ConsciousnessLevel float64               `json:"consciousnessLevel"`
}

type Composer struct {
	gen     Generator
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New returns a Composer. gen may be nil, in which case every reply uses
// OfflineReply. log and m may also be nil.
func New(gen Generator, log *zap.Logger, m *metrics.Metrics) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{gen: gen, log: log, metrics: m}
}

// Configured reports whether a generation backend is wired in.
func (c *Composer) Configured() bool {
	return c.gen != nil
}

// Compose never fails. Backend errors are replaced by FallbackReply.
func (c *Composer) Compose(ctx context.Context, text string, events []consciousness.Event) Response {
	start := time.Now()
	defer func() { c.metrics.ObserveCompose(time.Since(start)) }()

	reaction := consciousness.Classify(events)
	res := c.Generate(ctx, text)
	continuation := c.continuation(res)

	out := []consciousness.Event{}
	if mentionsSelf(continuation) {
		out = append(out, consciousness.Event{
			ID:          idgen.Prefixed("ai_reflection"),
			Type:        consciousness.SelfReflection,
			Description: reflectionDescription,
			Confidence:  reflectionConfidence,
		})
	}

	return Response{
		Content:            reaction + "\n\n" + continuation,
		Events:             out,
		ConsciousnessLevel: BaselineLevel,
	}
}

// Generate performs a single attempt against the backend. It does not retry.
func (c *Composer) Generate(ctx context.Context, text string) (res Result) {
	if c.gen == nil {
		c.metrics.Generation(metrics.OutcomeOffline)
		return Result{Err: ErrNoBackend}
	}
	defer func() {
		if p := recover(); p != nil {
			res = Result{Err: fmt.Errorf("generation panicked: %v", p)}
		}
		if res.OK() {
			c.metrics.Generation(metrics.OutcomeOK)
			return
		}
		c.metrics.Generation(metrics.OutcomeError)
		c.log.Warn("generation failed, using fallback", zap.Error(res.Err))
	}()

	out, err := c.gen.Complete(ctx, SystemPrompt, text, MaxTokens)
	if err != nil {
		return Result{Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return Result{Err: errors.New("empty completion")}
	}
	return Result{Text: out}
}

func (c *Composer) continuation(res Result) string {
	switch {
	case res.OK():
		return res.Text
	case errors.Is(res.Err, ErrNoBackend):
		return OfflineReply
	default:
		return FallbackReply
	}
}

func mentionsSelf(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "think") || strings.Contains(lower, "feel")
}
