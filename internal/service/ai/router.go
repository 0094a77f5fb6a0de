package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"duochat/internal/config"
)

const unsupportedModeText = "⚠️ Unsupported AI mode selected."

// ErrUnknownProvider is returned by Generate for names the router does not know.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider is one configured model vendor with its ordered model list.
type Provider struct {
	Name     string
	Display  string
	Fallback string
	Models   []string
	// Generators holds one Generator per entry of Models, in the same order.
	Generators []Generator
}

// Result is the outcome of a routed request. On failure Text holds the
// user-facing error line and Failed is set.
type Result struct {
	Text     string
	Provider string
	Model    string
	Failed   bool
}

// Router sends prompts to the provider behind a chat mode and falls back once
// to that provider's configured secondary.
type Router struct {
	providers     map[string]*Provider
	modes         []string
	imageProvider string
	describer     ImageDescriber
}

// NewRouter builds a router over already constructed providers. describer may
// be nil, in which case no mode accepts images.
func NewRouter(providers []*Provider, modes []string, imageProvider string, describer ImageDescriber) *Router {
	r := &Router{
		providers:     make(map[string]*Provider, len(providers)),
		modes:         append([]string(nil), modes...),
		imageProvider: imageProvider,
		describer:     describer,
	}
	for _, p := range providers {
		if p.Display == "" {
			p.Display = p.Name
		}
		r.providers[p.Name] = p
	}
	return r
}

// BuildRouter creates eino generators for every configured provider with an API key.
func BuildRouter(ctx context.Context, cfg *config.Config) (*Router, error) {
	var providers []*Provider
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			log.Printf("provider %s has no api key, skipping", name)
			continue
		}
		p := &Provider{Name: name, Display: pc.DisplayName, Fallback: pc.Fallback}
		for _, m := range pc.Models {
			gen, err := NewGenerator(ctx, name, pc, m)
			if err != nil {
				return nil, err
			}
			p.Models = append(p.Models, m)
			p.Generators = append(p.Generators, gen)
		}
		providers = append(providers, p)
	}

	var describer ImageDescriber
	if pc, ok := cfg.Providers[cfg.Chat.ImageProvider]; ok && cfg.Chat.ImageProvider == "gemini" && pc.APIKey != "" {
		d, err := NewImageDescriber(ctx, pc)
		if err != nil {
			return nil, err
		}
		describer = d
	}
	return NewRouter(providers, cfg.Chat.Modes, cfg.Chat.ImageProvider, describer), nil
}

// Modes lists the configured chat modes that have a live provider.
func (r *Router) Modes() []string {
	out := make([]string, 0, len(r.modes))
	for _, m := range r.modes {
		if _, ok := r.providers[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// HasMode reports whether mode is selectable and backed by a live provider.
func (r *Router) HasMode(mode string) bool {
	if _, ok := r.providers[mode]; !ok {
		return false
	}
	for _, m := range r.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// DisplayName returns the human name of a provider, or the name itself.
func (r *Router) DisplayName(name string) string {
	if p, ok := r.providers[name]; ok {
		return p.Display
	}
	return name
}

// Generate tries each model of one provider in order without cross-provider
// fallback and returns the last error when all fail.
func (r *Router) Generate(ctx context.Context, provider, prompt string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	text, _, err := r.tryModels(ctx, p, prompt, nil)
	return text, err
}

// Respond routes prompt to the mode's provider, then to its fallback.
func (r *Router) Respond(ctx context.Context, mode, prompt string) Result {
	res, _ := r.route(ctx, mode, prompt, nil)
	return res
}

// Stream is Respond with incremental delivery. Fallback is only attempted
// while nothing has been emitted. The returned error is non-nil only when
// onChunk itself failed.
func (r *Router) Stream(ctx context.Context, mode, prompt string, onChunk func(string) error) (Result, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return r.route(ctx, mode, prompt, onChunk)
}

func (r *Router) route(ctx context.Context, mode, prompt string, onChunk func(string) error) (Result, error) {
	primary, ok := r.providers[mode]
	if !ok || !r.HasMode(mode) {
		return Result{Text: unsupportedModeText, Failed: true}, nil
	}

	var (
		emitted     bool
		consumerErr error
	)
	tracked := onChunk
	if onChunk != nil {
		tracked = func(s string) error {
			emitted = true
			if err := onChunk(s); err != nil {
				consumerErr = err
				return err
			}
			return nil
		}
	}

	text, model, err := r.tryModels(ctx, primary, prompt, tracked)
	if err == nil {
		return Result{Text: text, Provider: primary.Name, Model: model}, nil
	}
	if consumerErr != nil {
		return Result{Text: text, Provider: primary.Name, Model: model, Failed: true}, consumerErr
	}
	log.Printf("provider %s failed: %v", primary.Name, err)

	if emitted {
		return Result{Text: text + fmt.Sprintf("\n\n❌ %s Error: %v", primary.Display, err), Provider: primary.Name, Model: model, Failed: true}, nil
	}
	fallback, hasFallback := r.providers[primary.Fallback]
	if !hasFallback {
		if primary.Fallback != "" {
			log.Printf("fallback provider %s for %s is not available", primary.Fallback, primary.Name)
		}
		return Result{Text: fmt.Sprintf("❌ %s Error: %v", primary.Display, err), Provider: primary.Name, Failed: true}, nil
	}

	lastErr := err
	text, err = r.invoke(ctx, fallback, 0, prompt, tracked)
	if err == nil {
		return Result{Text: text, Provider: fallback.Name, Model: fallback.Models[0]}, nil
	}
	if consumerErr != nil {
		return Result{Text: text, Provider: fallback.Name, Failed: true}, consumerErr
	}
	log.Printf("fallback provider %s failed: %v", fallback.Name, err)
	if emitted {
		return Result{Text: text + fmt.Sprintf("\n\n❌ %s Error: %v", fallback.Display, err), Provider: fallback.Name, Model: fallback.Models[0], Failed: true}, nil
	}
	return Result{
		Text:     fmt.Sprintf("❌ %s error: %v\n❌ %s fallback error: %v", primary.Display, lastErr, fallback.Display, err),
		Provider: fallback.Name,
		Failed:   true,
	}, nil
}

// tryModels walks the provider's models in order. Once a stream has emitted
// output no further model is tried.
func (r *Router) tryModels(ctx context.Context, p *Provider, prompt string, onChunk func(string) error) (string, string, error) {
	if len(p.Generators) == 0 {
		return "", "", fmt.Errorf("no models configured for %s", p.Name)
	}
	var lastErr error
	for i := range p.Generators {
		emitted := false
		wrapped := onChunk
		if onChunk != nil {
			wrapped = func(s string) error {
				emitted = true
				return onChunk(s)
			}
		}
		text, err := r.invoke(ctx, p, i, prompt, wrapped)
		if err == nil {
			return text, p.Models[i], nil
		}
		if emitted {
			return text, p.Models[i], err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", lastErr
}

func (r *Router) invoke(ctx context.Context, p *Provider, idx int, prompt string, onChunk func(string) error) (string, error) {
	if idx >= len(p.Generators) {
		return "", fmt.Errorf("no models configured for %s", p.Name)
	}
	gen := p.Generators[idx]
	if onChunk == nil {
		return gen.Generate(ctx, prompt)
	}
	return gen.Stream(ctx, prompt, onChunk)
}

// DescribeImage asks the image-capable provider to describe an uploaded picture.
// Modes other than the image provider get a not-supported notice.
func (r *Router) DescribeImage(ctx context.Context, mode string, data []byte) (Result, error) {
	mimeType, err := DetectImageType(data)
	if err != nil {
		return Result{}, err
	}
	if !r.HasMode(mode) {
		return Result{Text: unsupportedModeText, Failed: true}, nil
	}
	display := r.DisplayName(mode)
	if mode != r.imageProvider || r.describer == nil {
		return Result{Text: fmt.Sprintf("🖼️ %s image input not supported yet.", display), Provider: mode, Failed: true}, nil
	}
	text, err := r.describer.DescribeImage(ctx, data, mimeType)
	if err != nil {
		log.Printf("describe image via %s failed: %v", mode, err)
		return Result{Text: fmt.Sprintf("❌ %s Error: %v", display, err), Provider: mode, Failed: true}, nil
	}
	return Result{Text: strings.TrimSpace(text), Provider: mode}, nil
}
