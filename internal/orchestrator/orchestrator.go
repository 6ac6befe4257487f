package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/generator"
	"github.com/leadline-ai/leadline/internal/logging"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/monitoring"
)

// ErrNoIdentity is returned when a request carries neither a token nor a
// resolvable called number
var ErrNoIdentity = errors.New("no API token or known called number supplied")

// Resolver resolves request credentials to a client record
type Resolver interface {
	ResolveToken(ctx context.Context, token string) (*models.Client, error)
	ResolveNumber(ctx context.Context, number string) (*models.Client, error)
}

// Admitter gates admitted clients and consumes quota after completion
type Admitter interface {
	Admit(ctx context.Context, client *models.Client) error
	ConsumeQuota(ctx context.Context, clientID string) (int, error)
}

// ContextProvider fetches the bounded business-context block for a client's
// knowledge source
type ContextProvider interface {
	FetchContext(ctx context.Context, sourceRef string) (string, error)
}

// UsageRecorder appends one usage entry per completed request
type UsageRecorder interface {
	Record(ctx context.Context, clientID, endpoint, reqText, respText string, tokensEst int, duration time.Duration) error
}

// Request is one inbound assistant exchange
type Request struct {
	// Token authenticates the request; when empty, CalledNumber is used
	// (telephony inbound).
	Token        string
	CalledNumber string
	Query        string
	Endpoint     string
}

// Result is the outcome of a completed exchange
type Result struct {
	Client    *models.Client
	ReplyText string
	TokensEst int
	// Degraded is true when the fallback reply was substituted for a
	// generator failure.
	Degraded bool
	// QuotaRemaining is the trial balance after this request.
	QuotaRemaining int
}

// Orchestrator executes one client-facing request end-to-end: resolve,
// admit, fetch context, generate, log usage, consume quota.
type Orchestrator struct {
	resolver  Resolver
	admitter  Admitter
	knowledge ContextProvider
	gen       generator.Generator
	usage     UsageRecorder
	logger    zerolog.Logger
}

// New creates an orchestrator from its collaborators
func New(resolver Resolver, admitter Admitter, knowledge ContextProvider, gen generator.Generator, usage UsageRecorder) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		admitter:  admitter,
		knowledge: knowledge,
		gen:       gen,
		usage:     usage,
		logger:    logging.NewLogger("orchestrator"),
	}
}

// Resolve maps request credentials to a client. Token takes precedence;
// the number mapping is consulted only when no token is present.
func (o *Orchestrator) Resolve(ctx context.Context, req *Request) (*models.Client, error) {
	if req.Token != "" {
		return o.resolver.ResolveToken(ctx, req.Token)
	}
	if req.CalledNumber != "" {
		c, err := o.resolver.ResolveNumber(ctx, req.CalledNumber)
		if err != nil {
			if errors.Is(err, client.ErrNumberNotFound) {
				return nil, ErrNoIdentity
			}
			return nil, err
		}
		return c, nil
	}
	return nil, ErrNoIdentity
}

// Handle resolves the request's credentials and executes the full cycle
func (o *Orchestrator) Handle(ctx context.Context, req *Request) (*Result, error) {
	c, err := o.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.HandleForClient(ctx, c, req.Query, req.Endpoint)
}

// HandleForClient executes the request cycle for an already-authenticated
// client. Admission denials return before any generation or usage write.
// Once admitted, the caller always gets a reply: a generator failure
// substitutes the fallback text and the request still counts against quota.
func (o *Orchestrator) HandleForClient(ctx context.Context, c *models.Client, query, endpoint string) (*Result, error) {
	start := time.Now()

	if err := o.admitter.Admit(ctx, c); err != nil {
		return nil, err
	}

	businessCtx := o.fetchContext(ctx, c)

	reply, degraded := o.generate(ctx, query, businessCtx)

	duration := time.Since(start)
	if err := o.usage.Record(ctx, c.ID, endpoint, query, reply.Text, reply.TokensEst, duration); err != nil {
		// Hot-path store failures are fatal to this request
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	remaining, err := o.admitter.ConsumeQuota(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume quota: %w", err)
	}

	return &Result{
		Client:         c,
		ReplyText:      reply.Text,
		TokensEst:      reply.TokensEst,
		Degraded:       degraded,
		QuotaRemaining: remaining,
	}, nil
}

// fetchContext never fails the request: a degraded provider or absent
// knowledge source yields an empty context block.
func (o *Orchestrator) fetchContext(ctx context.Context, c *models.Client) string {
	if c.KnowledgeRef == nil || *c.KnowledgeRef == "" {
		return ""
	}
	block, err := o.knowledge.FetchContext(ctx, *c.KnowledgeRef)
	if err != nil {
		o.logger.Warn().Err(err).Str("client_id", c.ID).Msg("Knowledge context degraded")
		return ""
	}
	return block
}

// generate invokes the reply generator, substituting the fixed fallback
// reply on any failure so the caller always receives text.
func (o *Orchestrator) generate(ctx context.Context, query, businessCtx string) (*generator.Reply, bool) {
	start := time.Now()
	reply, err := o.gen.Generate(ctx, query, businessCtx)
	if err != nil {
		monitoring.RecordGeneratorRequest("error", time.Since(start))
		o.logger.Error().Err(err).Msg("Reply generation failed, using fallback")
		return &generator.Reply{Text: generator.FallbackReply, TokensEst: 0}, true
	}
	monitoring.RecordGeneratorRequest("success", time.Since(start))
	return reply, false
}
