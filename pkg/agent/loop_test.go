package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/nanobot/pkg/adapter"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/navigator"
	"github.com/zen-systems/nanobot/pkg/router"
)

type recordingProvider struct {
	*adapter.MockAdapter
	mu   sync.Mutex
	reqs []adapter.ChatRequest
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{MockAdapter: adapter.NewMockAdapterWithResponses(nil, "full agent answer")}
}

func (p *recordingProvider) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.Response, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.MockAdapter.Chat(ctx, req)
}

func (p *recordingProvider) last() adapter.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type fixedAnalyzer struct {
	res   navigator.Result
	calls int
}

func (a *fixedAnalyzer) Analyze(context.Context, []router.HistoryEntry, string, *config.NavigatorConfig, string) navigator.Result {
	a.calls++
	return a.res
}

func enabled() *config.NavigatorConfig {
	cfg := config.DefaultNavigatorConfig()
	cfg.Enabled = true
	return cfg
}

func TestHandleDisabledRunsFullAgent(t *testing.T) {
	provider := newRecordingProvider()
	nav := &fixedAnalyzer{}
	loop := NewLoop(nav, provider, "agent-model", config.DefaultNavigatorConfig())

	reply, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "full agent answer", reply.Text)
	assert.False(t, reply.Navigated)
	assert.Equal(t, router.Fallback, reply.Route)
	assert.Zero(t, nav.calls)
	assert.Equal(t, "agent-model", provider.last().Model)
}

func TestHandleTemplateUsesCannedReply(t *testing.T) {
	provider := newRecordingProvider()
	nav := navigator.New(nil, nil)
	loop := NewLoop(nav, provider, "agent-model", enabled())

	reply, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "Привет"})
	require.NoError(t, err)

	assert.Equal(t, router.Template, reply.Route)
	assert.Equal(t, DefaultTemplates().Greeting, reply.Text)
	assert.True(t, reply.Navigated)
	assert.Zero(t, provider.Calls())
}

func TestHandleNoActionIsSilent(t *testing.T) {
	provider := newRecordingProvider()
	nav := &fixedAnalyzer{res: navigator.Result{Route: router.NoAction}}
	loop := NewLoop(nav, provider, "agent-model", enabled())

	reply, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "again"})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	assert.Equal(t, router.NoAction, reply.Route)
	assert.Zero(t, provider.Calls())
}

func TestHandleSLMInjectsHint(t *testing.T) {
	provider := newRecordingProvider()
	hint := "Сначала проверьте права доступа."
	nav := &fixedAnalyzer{res: navigator.Result{Route: router.SLM, Hint: &hint}}
	loop := NewLoop(nav, provider, "agent-model", enabled())

	history := []router.HistoryEntry{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "tool", Content: "ignored"},
	}
	reply, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "why?", History: history})
	require.NoError(t, err)

	assert.Equal(t, router.SLM, reply.Route)
	assert.Equal(t, hint, reply.Hint)

	req := provider.last()
	require.Len(t, req.Messages, 5)
	assert.Equal(t, adapter.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "reply", req.Messages[2].Content)
	assert.Equal(t, adapter.RoleSystem, req.Messages[3].Role)
	assert.True(t, strings.HasSuffix(req.Messages[3].Content, hint))
	assert.Equal(t, adapter.Message{Role: adapter.RoleUser, Content: "why?"}, req.Messages[4])
}

func TestHandleFallbackRunsAgentWithoutHint(t *testing.T) {
	provider := newRecordingProvider()
	nav := &fixedAnalyzer{res: navigator.Result{Route: router.Fallback}}
	loop := NewLoop(nav, provider, "agent-model", enabled())

	reply, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "hard question"})
	require.NoError(t, err)
	assert.Equal(t, router.Fallback, reply.Route)
	assert.True(t, reply.Navigated)
	assert.Empty(t, reply.Hint)
	assert.Len(t, provider.last().Messages, 2)
}

func TestHandleAgentError(t *testing.T) {
	provider := newRecordingProvider()
	provider.Err = errors.New("upstream down")
	loop := NewLoop(nil, provider, "agent-model", enabled())

	_, err := loop.Handle(context.Background(), Turn{Message: "hi"})
	assert.ErrorContains(t, err, "upstream down")

	_, err = NewLoop(nil, nil, "x", nil).Handle(context.Background(), Turn{Message: "hi"})
	assert.Error(t, err)
}

func TestSetConfigSwapsGate(t *testing.T) {
	provider := newRecordingProvider()
	nav := &fixedAnalyzer{res: navigator.Result{Route: router.NoAction}}
	loop := NewLoop(nav, provider, "agent-model", config.DefaultNavigatorConfig())

	_, err := loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "x"})
	require.NoError(t, err)
	assert.Zero(t, nav.calls)

	loop.SetConfig(enabled())
	assert.True(t, loop.Config().Enabled)
	_, err = loop.Handle(context.Background(), Turn{ConversationID: "c", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, nav.calls)
}

func TestTemplatesPick(t *testing.T) {
	tpl := DefaultTemplates()
	assert.Equal(t, tpl.Risk, tpl.Pick(router.Flags{RiskToxic: true}, nil))
	assert.Equal(t, tpl.Issue, tpl.Pick(router.Flags{Stage: router.StageActive}, []string{router.TagIssue}))
	assert.Equal(t, tpl.Greeting, tpl.Pick(router.Flags{Stage: router.StageStart}, nil))
	assert.Equal(t, tpl.Default, tpl.Pick(router.Flags{Stage: router.StageActive}, nil))
}
