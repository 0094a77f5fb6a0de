package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/internal/models"
)

type fakeGenerator struct {
	reply   string
	err     error
	chunks  []string
	failMid error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) Stream(_ context.Context, prompt string, onChunk func(string) error) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, c := range f.chunks {
		full.WriteString(c)
		if err := onChunk(c); err != nil {
			return full.String(), err
		}
	}
	if f.failMid != nil {
		return full.String(), f.failMid
	}
	return full.String(), nil
}

type fakeDescriber struct {
	text string
	err  error
	mime string
}

func (f *fakeDescriber) DescribeImage(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.mime = mimeType
	return f.text, f.err
}

func newTestRouter(gem, gpt4, gpt35 *fakeGenerator, describer ImageDescriber) *Router {
	return NewRouter([]*Provider{
		{Name: "gemini", Display: "Gemini", Models: []string{"gemini-2.5-flash"}, Generators: []Generator{gem}},
		{Name: "openai", Display: "OpenAI", Fallback: "gemini", Models: []string{"gpt-4o-mini", "gpt-3.5-turbo"}, Generators: []Generator{gpt4, gpt35}},
	}, []string{"gemini", "openai"}, "gemini", describer)
}

func TestApplyStyle(t *testing.T) {
	assert.Equal(t, "Respond in a humorous and witty tone:\nhi", ApplyStyle(models.StyleFunnier, "hi"))
	assert.Equal(t, "Explain in a very simple, friendly, and playful way for a 7-year-old:\nhi", ApplyStyle(models.StyleKid, "hi"))
	assert.Equal(t, "Respond in a formal, polished, and professional tone:\nhi", ApplyStyle(models.StyleProfessional, "hi"))
	assert.Equal(t, "hi", ApplyStyle("", "hi"))
}

func TestRespondUsesFirstSuccessfulModel(t *testing.T) {
	gem := &fakeGenerator{reply: "gem"}
	gpt4 := &fakeGenerator{err: errors.New("quota")}
	gpt35 := &fakeGenerator{reply: "turbo"}
	r := newTestRouter(gem, gpt4, gpt35, nil)

	res := r.Respond(context.Background(), "openai", "q")
	assert.False(t, res.Failed)
	assert.Equal(t, "turbo", res.Text)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.Equal(t, 0, gem.calls)
}

func TestRespondFallsBackToSecondaryProvider(t *testing.T) {
	gem := &fakeGenerator{reply: "from gemini"}
	gpt4 := &fakeGenerator{err: errors.New("a")}
	gpt35 := &fakeGenerator{err: errors.New("b")}
	r := newTestRouter(gem, gpt4, gpt35, nil)

	res := r.Respond(context.Background(), "openai", "q")
	assert.False(t, res.Failed)
	assert.Equal(t, "from gemini", res.Text)
	assert.Equal(t, "gemini", res.Provider)
	assert.Equal(t, 1, gpt4.calls)
	assert.Equal(t, 1, gpt35.calls)
}

func TestRespondErrorFormats(t *testing.T) {
	gem := &fakeGenerator{err: errors.New("down")}
	gpt4 := &fakeGenerator{err: errors.New("a")}
	gpt35 := &fakeGenerator{err: errors.New("b")}
	r := newTestRouter(gem, gpt4, gpt35, nil)

	res := r.Respond(context.Background(), "gemini", "q")
	assert.True(t, res.Failed)
	assert.Equal(t, "❌ Gemini Error: down", res.Text)

	res = r.Respond(context.Background(), "openai", "q")
	assert.True(t, res.Failed)
	assert.Equal(t, "❌ OpenAI error: b\n❌ Gemini fallback error: down", res.Text)

	res = r.Respond(context.Background(), "claude", "q")
	assert.True(t, res.Failed)
	assert.Equal(t, "⚠️ Unsupported AI mode selected.", res.Text)
}

func TestStreamFallbackOnlyBeforeOutput(t *testing.T) {
	gem := &fakeGenerator{chunks: []string{"fall", "back"}}
	gpt4 := &fakeGenerator{err: errors.New("refused")}
	gpt35 := &fakeGenerator{err: errors.New("refused")}
	r := newTestRouter(gem, gpt4, gpt35, nil)

	var got []string
	res, err := r.Stream(context.Background(), "openai", "q", func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, "fallback", res.Text)
	assert.Equal(t, []string{"fall", "back"}, got)

	gpt4 = &fakeGenerator{chunks: []string{"partial"}, failMid: errors.New("reset")}
	gem = &fakeGenerator{chunks: []string{"never"}}
	r = newTestRouter(gem, gpt4, &fakeGenerator{reply: "unused"}, nil)
	res, err = r.Stream(context.Background(), "openai", "q", func(string) error { return nil })
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "partial\n\n❌ OpenAI Error: reset", res.Text)
	assert.Equal(t, 0, gem.calls)

	gem = &fakeGenerator{chunks: []string{"half ", "an ans"}, failMid: errors.New("reset")}
	r = newTestRouter(gem, &fakeGenerator{err: errors.New("a")}, &fakeGenerator{err: errors.New("b")}, nil)
	var seen strings.Builder
	res, err = r.Stream(context.Background(), "openai", "q", func(s string) error {
		seen.WriteString(s)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "gemini", res.Provider)
	assert.Equal(t, "half an ans", seen.String())
	assert.Equal(t, "half an ans\n\n❌ Gemini Error: reset", res.Text)
}

func TestStreamStopsWhenConsumerFails(t *testing.T) {
	gem := &fakeGenerator{chunks: []string{"a", "b"}}
	r := newTestRouter(gem, &fakeGenerator{}, &fakeGenerator{}, nil)
	gone := errors.New("client gone")
	_, err := r.Stream(context.Background(), "gemini", "q", func(string) error { return gone })
	assert.ErrorIs(t, err, gone)
}

func TestGenerateHasNoCrossProviderFallback(t *testing.T) {
	gem := &fakeGenerator{reply: "gem"}
	gpt4 := &fakeGenerator{err: errors.New("a")}
	gpt35 := &fakeGenerator{err: errors.New("b")}
	r := newTestRouter(gem, gpt4, gpt35, nil)

	_, err := r.Generate(context.Background(), "openai", "q")
	require.EqualError(t, err, "b")
	assert.Equal(t, 0, gem.calls)

	_, err = r.Generate(context.Background(), "nope", "q")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDescribeImage(t *testing.T) {
	d := &fakeDescriber{text: " a cat \n"}
	r := newTestRouter(&fakeGenerator{}, &fakeGenerator{}, &fakeGenerator{}, d)

	res, err := r.DescribeImage(context.Background(), "gemini", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "a cat", res.Text)
	assert.Equal(t, "image/png", d.mime)

	res, err = r.DescribeImage(context.Background(), "openai", pngHeader)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "🖼️ OpenAI image input not supported yet.", res.Text)

	_, err = r.DescribeImage(context.Background(), "gemini", []byte("GIF89a...."))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	d.err = errors.New("blocked")
	res, err = r.DescribeImage(context.Background(), "gemini", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "❌ Gemini Error: blocked", res.Text)
}
