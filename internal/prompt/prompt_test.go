package prompt

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/mirror-speech/internal/llm"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStatic(t *testing.T) {
	text, err := Static("  What is your name?  ").Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "What is your name?", text)

	_, err = Static(" ").Generate(context.Background())
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestTemplateGenerator_PrefersLocale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "what_input.txt"), "What should I repeat?\n")
	writeFile(t, filepath.Join(dir, "de", "what_input.txt"), "Was soll ich wiederholen?\n")

	g, err := NewTemplateGenerator(TemplateConfig{Dir: dir, File: "what_input.txt", Locale: "de"}, logger.NewNop())
	require.NoError(t, err)

	text, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Was soll ich wiederholen?", text)
}

func TestTemplateGenerator_FallsBackToRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "what_input.txt"), "What should I repeat?\n")

	g, err := NewTemplateGenerator(TemplateConfig{Dir: dir, File: "what_input.txt", Locale: "fr"}, logger.NewNop())
	require.NoError(t, err)

	text, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "What should I repeat?", text)
}

func TestTemplateGenerator_PicksAlternativeAndRenders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "q.txt"), "# questions\n\nFirst question?\n  Session {{.SessionID}}, say something.  \n")

	var gotN int
	g, err := NewTemplateGenerator(TemplateConfig{
		Dir:       dir,
		File:      "q.txt",
		SessionID: "s1",
		Pick: func(n int) int {
			gotN = n
			return 1
		},
	}, logger.NewNop())
	require.NoError(t, err)

	text, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gotN)
	assert.Equal(t, "Session s1, say something.", text)
}

func TestTemplateGenerator_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewTemplateGenerator(TemplateConfig{Dir: dir}, nil)
	assert.Error(t, err)

	g, err := NewTemplateGenerator(TemplateConfig{Dir: dir, File: "missing.txt"}, logger.NewNop())
	require.NoError(t, err)
	_, err = g.Generate(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	writeFile(t, filepath.Join(dir, "blank.txt"), "\n# only a comment\n\n")
	g, err = NewTemplateGenerator(TemplateConfig{Dir: dir, File: "blank.txt"}, logger.NewNop())
	require.NoError(t, err)
	_, err = g.Generate(context.Background())
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	writeFile(t, filepath.Join(dir, "bad.txt"), "{{.Nope}}\n")
	g, err = NewTemplateGenerator(TemplateConfig{Dir: dir, File: "bad.txt"}, logger.NewNop())
	require.NoError(t, err)
	_, err = g.Generate(context.Background())
	assert.Error(t, err)
}

type fakeClient struct {
	content string
	err     error
	got     *llm.CompletionRequest
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "fake"}, nil
}

func (f *fakeClient) Name() string { return "fake" }

func TestLLMGenerator(t *testing.T) {
	client := &fakeClient{content: "  \"What did you have for breakfast?\"\nSure!"}
	g := NewLLMGenerator(client, "small", "en-GB", logger.NewNop())

	text, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "What did you have for breakfast?", text)

	require.NotNil(t, client.got)
	assert.Equal(t, "small", client.got.Model)
	assert.NotEmpty(t, client.got.System)
	require.Len(t, client.got.Messages, 1)
	assert.Contains(t, client.got.Messages[0].Content, "en-GB")
}

func TestLLMGenerator_Failures(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLLMGenerator(&fakeClient{err: boom}, "", "", logger.NewNop()).Generate(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = NewLLMGenerator(&fakeClient{content: "  \"\" "}, "", "", logger.NewNop()).Generate(context.Background())
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}
