package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"duochat/internal/config"
)

const imagePrompt = "Describe this image."

// ErrUnsupportedImage is returned for uploads that are neither JPEG nor PNG.
var ErrUnsupportedImage = errors.New("only jpg and png images are supported")

// Generator answers a single-turn prompt with one model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Stream calls onChunk with each delta and returns the full text.
	Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
}

// ImageDescriber turns raw image bytes into a text description.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

type einoGenerator struct {
	chatModel model.BaseChatModel
}

func (g *einoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.chatModel.Generate(ctx, userMessages(prompt))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (g *einoGenerator) Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	reader, err := g.chatModel.Stream(ctx, userMessages(prompt))
	if err != nil {
		return "", err
	}
	defer reader.Close()
	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onChunk != nil {
			if err := onChunk(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
}

func userMessages(prompt string) []*schema.Message {
	return []*schema.Message{{Role: schema.User, Content: prompt}}
}

// NewGenerator builds an eino chat model for one provider/model pair.
// Providers other than gemini and claude speak the OpenAI protocol.
func NewGenerator(ctx context.Context, provider string, cfg config.ProviderConfig, modelName string) (Generator, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "gemini":
		client, cerr := newGenaiClient(ctx, cfg)
		if cerr != nil {
			return nil, cerr
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model %s: %w", provider, modelName, err)
	}
	return &einoGenerator{chatModel: chatModel}, nil
}

func newGenaiClient(ctx context.Context, cfg config.ProviderConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new genai client: %w", err)
	}
	return client, nil
}

type genaiDescriber struct {
	client *genai.Client
	model  string
}

// NewImageDescriber returns a Gemini-backed describer using inline image data.
func NewImageDescriber(ctx context.Context, cfg config.ProviderConfig) (ImageDescriber, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("image provider has no models")
	}
	client, err := newGenaiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &genaiDescriber{client: client, model: cfg.Models[0]}, nil
}

func (d *genaiDescriber) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(imagePrompt),
		}, genai.RoleUser),
	}
	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// DetectImageType sniffs data and returns its MIME type when it is JPEG or PNG.
func DetectImageType(data []byte) (string, error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png":
		return ct, nil
	}
	return "", ErrUnsupportedImage
}
