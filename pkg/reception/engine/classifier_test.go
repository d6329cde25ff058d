package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/store"
)

type cannedCompleter struct {
	text string
	err  error
	req  *types.MessageRequest
}

func (c *cannedCompleter) CreateMessage(_ context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	c.req = req
	if c.err != nil {
		return nil, c.err
	}
	return &types.MessageResponse{Content: []types.ContentBlock{types.Text(c.text)}}, nil
}

func TestParseField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text, want string
	}{
		{`{"service_name": "Blocked Drain"}`, "Blocked Drain"},
		{"```json\n{\"service_name\": \"Hot Water Repair\"}\n```", "Hot Water Repair"},
		{`Sure! {"service_name": "Blocked Drain"} hope that helps`, "Blocked Drain"},
		{`{"service_name": null}`, ""},
		{`null`, ""},
		{`"Blocked Drain"`, "Blocked Drain"},
		{`Blocked Drain`, "Blocked Drain"},
		{`{"other": 1}`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseField(tt.text, "service_name"), tt.text)
	}
}

func TestClassifier_ClassifyService(t *testing.T) {
	t.Parallel()
	biz := &store.Business{
		Name:     "Bondi Plumbing",
		Services: []store.Service{{Name: "Hot Water Repair"}, {Name: "Blocked Drain"}},
	}
	llm := &cannedCompleter{text: `{"service_name": "blocked drain"}`}
	c := NewClassifier(llm, "gpt-4o-mini")

	got, err := c.ClassifyService(t.Context(), biz, []string{"hi", "", "the kitchen sink won't empty", "it smells", "yes"})
	require.NoError(t, err)
	assert.Equal(t, "Blocked Drain", got)

	require.NotNil(t, llm.req)
	assert.Equal(t, "gpt-4o-mini", llm.req.Model)
	assert.Equal(t, classifierMaxTokens, llm.req.MaxTokens)
	require.NotNil(t, llm.req.Temperature)
	assert.Zero(t, *llm.req.Temperature)
	assert.True(t, llm.req.JSONOutput)
	prompt := llm.req.Messages[0].TextContent()
	assert.Contains(t, prompt, "Business: Bondi Plumbing (business)")
	assert.Contains(t, prompt, "- \"Hot Water Repair\"\n- \"Blocked Drain\"")
	assert.Contains(t, prompt, "Customer: the kitchen sink won't empty\nCustomer: it smells\nCustomer: yes")
	assert.NotContains(t, prompt, "Customer: hi")

	llm.text = `{"service_name": "Roof Repair"}`
	got, err = c.ClassifyService(t.Context(), biz, []string{"my roof leaks"})
	require.NoError(t, err)
	assert.Empty(t, got)

	llm.err = errors.New("rate limited")
	_, err = c.ClassifyService(t.Context(), biz, []string{"my roof leaks"})
	require.Error(t, err)

	got, err = c.ClassifyService(t.Context(), &store.Business{}, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClassifier_ExtractName(t *testing.T) {
	t.Parallel()
	llm := &cannedCompleter{text: `{"name": "Priya"}`}
	c := NewClassifier(llm, "")
	got, err := c.ExtractName(t.Context(), []string{"it's Priya here", "0412 000 000"})
	require.NoError(t, err)
	assert.Equal(t, "Priya", got)
	assert.Equal(t, "Customer: it's Priya here\nCustomer: 0412 000 000", llm.req.Messages[0].TextContent())

	got, err = c.ExtractName(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
