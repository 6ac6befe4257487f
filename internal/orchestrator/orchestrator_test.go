package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadline-ai/leadline/internal/admission"
	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/generator"
	"github.com/leadline-ai/leadline/internal/models"
)

// In-memory collaborators. The real implementations are exercised in their
// own packages against a database; these pin down the orchestration order.

type fakeResolver struct {
	byToken  map[string]*models.Client
	byNumber map[string]*models.Client
}

func (f *fakeResolver) ResolveToken(ctx context.Context, token string) (*models.Client, error) {
	c, ok := f.byToken[token]
	if !ok {
		return nil, client.ErrTokenNotFound
	}
	return c, nil
}

func (f *fakeResolver) ResolveNumber(ctx context.Context, number string) (*models.Client, error) {
	c, ok := f.byNumber[number]
	if !ok {
		return nil, client.ErrNumberNotFound
	}
	return c, nil
}

type fakeAdmitter struct {
	admitErr   error
	remaining  int
	admitted   int
	consumed   int
	consumeErr error
}

func (f *fakeAdmitter) Admit(ctx context.Context, c *models.Client) error {
	f.admitted++
	return f.admitErr
}

func (f *fakeAdmitter) ConsumeQuota(ctx context.Context, clientID string) (int, error) {
	if f.consumeErr != nil {
		return 0, f.consumeErr
	}
	f.consumed++
	if f.remaining > 0 {
		f.remaining--
	}
	return f.remaining, nil
}

type fakeKnowledge struct {
	block string
	err   error
	calls int
}

func (f *fakeKnowledge) FetchContext(ctx context.Context, sourceRef string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.block, nil
}

type fakeGenerator struct {
	reply   *generator.Reply
	err     error
	calls   int
	lastCtx string
}

func (f *fakeGenerator) Generate(ctx context.Context, query, businessCtx string) (*generator.Reply, error) {
	f.calls++
	f.lastCtx = businessCtx
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type usageEntry struct {
	clientID string
	endpoint string
	reqText  string
	respText string
	tokens   int
}

type fakeUsage struct {
	entries []usageEntry
	err     error
}

func (f *fakeUsage) Record(ctx context.Context, clientID, endpoint, reqText, respText string, tokensEst int, duration time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, usageEntry{clientID, endpoint, reqText, respText, tokensEst})
	return nil
}

func knowledgeRef(s string) *string { return &s }

func testClient() *models.Client {
	return &models.Client{ID: "c1", Name: "Acme", Plan: "SME", RemainingCalls: 10, KnowledgeRef: knowledgeRef("src-1")}
}

func TestHandleForClient_HappyPath(t *testing.T) {
	admitter := &fakeAdmitter{remaining: 10}
	knowledge := &fakeKnowledge{block: "Q: Hours?\nA: 9-5."}
	gen := &fakeGenerator{reply: &generator.Reply{Text: "We are open 9 to 5.", TokensEst: 12}}
	usage := &fakeUsage{}

	o := New(&fakeResolver{}, admitter, knowledge, gen, usage)

	result, err := o.HandleForClient(context.Background(), testClient(), "What are your hours?", "/webhook")
	if err != nil {
		t.Fatalf("HandleForClient failed: %v", err)
	}

	if result.ReplyText != "We are open 9 to 5." {
		t.Errorf("Unexpected reply: %q", result.ReplyText)
	}
	if result.Degraded {
		t.Error("Reply should not be degraded")
	}
	if result.QuotaRemaining != 9 {
		t.Errorf("Expected 9 remaining, got %d", result.QuotaRemaining)
	}
	if gen.lastCtx != knowledge.block {
		t.Errorf("Generator should receive the knowledge block, got %q", gen.lastCtx)
	}
	if len(usage.entries) != 1 {
		t.Fatalf("Expected 1 usage entry, got %d", len(usage.entries))
	}
	entry := usage.entries[0]
	if entry.clientID != "c1" || entry.endpoint != "/webhook" || entry.respText != result.ReplyText {
		t.Errorf("Usage entry mismatch: %+v", entry)
	}
	if admitter.consumed != 1 {
		t.Errorf("Expected exactly 1 quota consumption, got %d", admitter.consumed)
	}
}

func TestHandleForClient_RateLimitShortCircuits(t *testing.T) {
	admitter := &fakeAdmitter{admitErr: admission.ErrRateLimited}
	gen := &fakeGenerator{reply: &generator.Reply{Text: "hi"}}
	usage := &fakeUsage{}

	o := New(&fakeResolver{}, admitter, &fakeKnowledge{}, gen, usage)

	_, err := o.HandleForClient(context.Background(), testClient(), "hello", "/webhook")
	if !errors.Is(err, admission.ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got: %v", err)
	}

	if gen.calls != 0 {
		t.Error("Generator must not run for a denied request")
	}
	if len(usage.entries) != 0 {
		t.Error("Denied requests must not be recorded as usage")
	}
	if admitter.consumed != 0 {
		t.Error("Denied requests must not consume quota")
	}
}

func TestHandleForClient_QuotaExhaustedShortCircuits(t *testing.T) {
	admitter := &fakeAdmitter{admitErr: admission.ErrQuotaExhausted}
	gen := &fakeGenerator{reply: &generator.Reply{Text: "hi"}}
	usage := &fakeUsage{}

	o := New(&fakeResolver{}, admitter, &fakeKnowledge{}, gen, usage)

	_, err := o.HandleForClient(context.Background(), testClient(), "hello", "/webhook")
	if !errors.Is(err, admission.ErrQuotaExhausted) {
		t.Fatalf("Expected ErrQuotaExhausted, got: %v", err)
	}
	if gen.calls != 0 || len(usage.entries) != 0 || admitter.consumed != 0 {
		t.Error("Quota-exhausted requests must not generate, record or consume")
	}
}

// A generator failure still produces a reply, still gets logged as usage, and
// still counts against the trial.
func TestHandleForClient_FallbackStillConsumesQuota(t *testing.T) {
	admitter := &fakeAdmitter{remaining: 5}
	gen := &fakeGenerator{err: generator.ErrUnavailable}
	usage := &fakeUsage{}

	o := New(&fakeResolver{}, admitter, &fakeKnowledge{}, gen, usage)

	result, err := o.HandleForClient(context.Background(), testClient(), "hello", "/webhook")
	if err != nil {
		t.Fatalf("Generator failure must not fail the request: %v", err)
	}

	if result.ReplyText != generator.FallbackReply {
		t.Errorf("Expected fallback reply, got %q", result.ReplyText)
	}
	if !result.Degraded {
		t.Error("Fallback reply should be marked degraded")
	}
	if result.QuotaRemaining != 4 {
		t.Errorf("Expected quota consumed despite fallback, remaining=%d", result.QuotaRemaining)
	}
	if len(usage.entries) != 1 {
		t.Fatalf("Fallback replies must still be recorded, got %d entries", len(usage.entries))
	}
	if usage.entries[0].respText != generator.FallbackReply {
		t.Errorf("Usage should carry the fallback text, got %q", usage.entries[0].respText)
	}
}

// A degraded knowledge provider yields an empty context block, not a failure.
func TestHandleForClient_KnowledgeDegradesToEmpty(t *testing.T) {
	admitter := &fakeAdmitter{remaining: 5}
	knowledge := &fakeKnowledge{err: errors.New("knowledge store down")}
	gen := &fakeGenerator{reply: &generator.Reply{Text: "generic answer", TokensEst: 3}}

	o := New(&fakeResolver{}, admitter, knowledge, gen, &fakeUsage{})

	result, err := o.HandleForClient(context.Background(), testClient(), "hello", "/webhook")
	if err != nil {
		t.Fatalf("Knowledge failure must not fail the request: %v", err)
	}
	if result.Degraded {
		t.Error("A successful generation is not degraded, even without context")
	}
	if gen.lastCtx != "" {
		t.Errorf("Expected empty context block, got %q", gen.lastCtx)
	}
}

// Clients without a knowledge source never hit the provider.
func TestHandleForClient_NoKnowledgeRefSkipsProvider(t *testing.T) {
	knowledge := &fakeKnowledge{block: "should not be fetched"}
	gen := &fakeGenerator{reply: &generator.Reply{Text: "ok"}}

	o := New(&fakeResolver{}, &fakeAdmitter{remaining: 5}, knowledge, gen, &fakeUsage{})

	c := testClient()
	c.KnowledgeRef = nil

	if _, err := o.HandleForClient(context.Background(), c, "hello", "/webhook"); err != nil {
		t.Fatalf("HandleForClient failed: %v", err)
	}
	if knowledge.calls != 0 {
		t.Errorf("Provider should not be consulted without a knowledge ref, got %d calls", knowledge.calls)
	}
}

func TestHandleForClient_UsageFailureIsFatal(t *testing.T) {
	admitter := &fakeAdmitter{remaining: 5}
	usage := &fakeUsage{err: errors.New("usage store down")}

	o := New(&fakeResolver{}, admitter, &fakeKnowledge{}, &fakeGenerator{reply: &generator.Reply{Text: "ok"}}, usage)

	if _, err := o.HandleForClient(context.Background(), testClient(), "hello", "/webhook"); err == nil {
		t.Fatal("Expected an error when usage recording fails")
	}
	if admitter.consumed != 0 {
		t.Error("Quota must not be consumed when the request fails before completion")
	}
}

func TestResolve_TokenPrecedence(t *testing.T) {
	tokenClient := &models.Client{ID: "by-token"}
	numberClient := &models.Client{ID: "by-number"}
	resolver := &fakeResolver{
		byToken:  map[string]*models.Client{"lk_t1": tokenClient},
		byNumber: map[string]*models.Client{"+911234": numberClient},
	}

	o := New(resolver, &fakeAdmitter{}, &fakeKnowledge{}, &fakeGenerator{}, &fakeUsage{})

	c, err := o.Resolve(context.Background(), &Request{Token: "lk_t1", CalledNumber: "+911234"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.ID != "by-token" {
		t.Errorf("Token must take precedence over number, resolved %s", c.ID)
	}

	c, err = o.Resolve(context.Background(), &Request{CalledNumber: "+911234"})
	if err != nil {
		t.Fatalf("Resolve by number failed: %v", err)
	}
	if c.ID != "by-number" {
		t.Errorf("Expected number resolution, got %s", c.ID)
	}
}

func TestResolve_NoIdentity(t *testing.T) {
	o := New(&fakeResolver{}, &fakeAdmitter{}, &fakeKnowledge{}, &fakeGenerator{}, &fakeUsage{})

	if _, err := o.Resolve(context.Background(), &Request{}); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("Expected ErrNoIdentity for empty credentials, got: %v", err)
	}

	// Unknown number maps onto the same identity failure
	if _, err := o.Resolve(context.Background(), &Request{CalledNumber: "+10000"}); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("Expected ErrNoIdentity for unmapped number, got: %v", err)
	}

	// An unknown token is a credential failure, not a missing identity
	if _, err := o.Resolve(context.Background(), &Request{Token: "lk_wrong"}); !errors.Is(err, client.ErrTokenNotFound) {
		t.Fatalf("Expected ErrTokenNotFound, got: %v", err)
	}
}
