package gatewaysrv

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		args     map[string]string
		declared []mcp.PromptArgument
		want     string
		wantErr  bool
	}{
		{
			name:     "plain substitution",
			template: "Summarize {{ text }} in a {{ tone }} tone.",
			args:     map[string]string{"text": "the report", "tone": "neutral"},
			want:     "Summarize the report in a neutral tone.",
		},
		{
			name:     "no spaces inside braces",
			template: "Hello {{name}}!",
			args:     map[string]string{"name": "world"},
			want:     "Hello world!",
		},
		{
			name:     "absent optional renders empty",
			template: "Review {{ text }}{{ suffix }}",
			args:     map[string]string{"text": "this"},
			want:     "Review this",
		},
		{
			name:     "missing required argument",
			template: "Summarize {{ text }}",
			args:     map[string]string{},
			declared: []mcp.PromptArgument{{Name: "text", Required: true}},
			wantErr:  true,
		},
		{
			name:     "empty required argument",
			template: "Summarize {{ text }}",
			args:     map[string]string{"text": ""},
			declared: []mcp.PromptArgument{{Name: "text", Required: true}},
			wantErr:  true,
		},
		{
			name:     "single braces untouched",
			template: "literal {text} stays",
			args:     map[string]string{"text": "nope"},
			want:     "literal {text} stays",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := renderTemplate(tc.template, tc.args, tc.declared)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPromptArguments(t *testing.T) {
	prompt := func(schema string) *store.Prompt {
		return &store.Prompt{ArgumentsSchema: json.RawMessage(schema)}
	}

	t.Run("empty schema", func(t *testing.T) {
		assert.Nil(t, promptArguments(&store.Prompt{}))
	})

	t.Run("argument list from a peer", func(t *testing.T) {
		args := promptArguments(prompt(`[{"name":"paper_id","description":"arXiv id","required":true}]`))
		require.Len(t, args, 1)
		assert.Equal(t, "paper_id", args[0].Name)
		assert.Equal(t, "arXiv id", args[0].Description)
		assert.True(t, args[0].Required)
	})

	t.Run("json schema object", func(t *testing.T) {
		args := promptArguments(prompt(`{
			"type": "object",
			"properties": {
				"tone": {"description": "voice to use"},
				"text": {"description": "input text"}
			},
			"required": ["text"]
		}`))
		require.Len(t, args, 2)
		assert.Equal(t, "text", args[0].Name)
		assert.True(t, args[0].Required)
		assert.Equal(t, "input text", args[0].Description)
		assert.Equal(t, "tone", args[1].Name)
		assert.False(t, args[1].Required)
	})

	t.Run("required without properties", func(t *testing.T) {
		args := promptArguments(prompt(`{"type":"object","required":["text"]}`))
		require.Len(t, args, 1)
		assert.Equal(t, "text", args[0].Name)
		assert.True(t, args[0].Required)
	})

	t.Run("garbage schema", func(t *testing.T) {
		assert.Nil(t, promptArguments(prompt(`"what"`)))
	})
}

func TestGetPromptRendersLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(adminID)

	p := &store.Prompt{
		Template:        "Summarize {{ text }} in a {{ tone }} tone.",
		ArgumentsSchema: json.RawMessage(`{"type":"object","required":["text"]}`),
	}
	p.Name = "summarize"
	p.Description = "Summarize a document"
	p.Visibility = store.VisibilityPublic
	_, err := env.catalog.CreatePrompt(ctx, actor, p)
	require.NoError(t, err)

	sf, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)
	require.True(t, sf.hasPrompt("summarize"))

	req := mcp.GetPromptRequest{}
	req.Params.Name = "summarize"
	req.Params.Arguments = map[string]string{"text": "the changelog", "tone": "dry"}

	res, err := env.engine.getPrompt(auth.WithIdentity(ctx, adminID), sf, req)
	require.NoError(t, err)
	assert.Equal(t, "Summarize a document", res.Description)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.RoleUser, res.Messages[0].Role)

	text, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Summarize the changelog in a dry tone.", text.Text)
}

func TestGetPromptMissingRequiredArgument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(adminID)

	p := &store.Prompt{
		Template:        "Summarize {{ text }}",
		ArgumentsSchema: json.RawMessage(`{"type":"object","required":["text"]}`),
	}
	p.Name = "summarize"
	p.Visibility = store.VisibilityPublic
	_, err := env.catalog.CreatePrompt(ctx, actor, p)
	require.NoError(t, err)

	sf, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)

	req := mcp.GetPromptRequest{}
	req.Params.Name = "summarize"

	_, err = env.engine.getPrompt(auth.WithIdentity(ctx, adminID), sf, req)
	require.Error(t, err)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
}

func TestGetPromptUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sf, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)

	req := mcp.GetPromptRequest{}
	req.Params.Name = "missing"

	_, err = env.engine.getPrompt(auth.WithIdentity(ctx, adminID), sf, req)
	require.Error(t, err)
	assert.True(t, mcperr.IsKind(err, mcperr.KindMethodNotFound))
}
