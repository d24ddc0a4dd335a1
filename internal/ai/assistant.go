package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zideebot/internal/metrics"
)

type AssistantConfig struct {
	// Generator is nil when no usable key is configured; every call is then
	// answered offline.
	Generator   Generator
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Limiter     *RateLimiter
	Logger      *slog.Logger
}

// Assistant turns AI commands into sendable text.
type Assistant struct {
	gen         Generator
	temperature float32
	maxTokens   int
	timeout     time.Duration
	limiter     *RateLimiter
	logger      *slog.Logger
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistant{
		gen:         cfg.Generator,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger,
	}
}

// Online reports whether a provider is configured.
func (a *Assistant) Online() bool { return a.gen != nil }

var errThrottled = errors.New("ai: local rate limit")

func (a *Assistant) generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if a.gen == nil {
		return "", ErrNoAPIKey
	}
	if !a.limiter.Allow() {
		return "", errThrottled
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	metrics.AIRequestsTotal.Inc()
	start := time.Now()
	text, err := a.gen.Generate(ctx, prompt, opts)
	metrics.AILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		a.logger.Warn("ai request failed", "provider", a.gen.Name(), "status", statusCode(err), "err", err)
		return "", err
	}
	return text, nil
}

// Chat answers a free-form question.
func (a *Assistant) Chat(ctx context.Context, question string) string {
	prompt := fmt.Sprintf(`Kamu adalah bot WhatsApp yang ramah dan membantu.
Jawab dengan singkat (maksimal 500 karakter), gunakan emoji yang tepat, dan dalam bahasa Indonesia.
User bertanya: "%s"

Berikan jawaban yang informatif tapi tidak terlalu panjang untuk WhatsApp.`, question)

	text, err := a.generate(ctx, prompt, Options{Temperature: a.temperature, MaxTokens: a.maxTokens})
	switch {
	case err == nil:
		return fmt.Sprintf("🤖 **%s AI**\n\n%s\n\n💡 *Powered by %s*", a.gen.Name(), text, a.gen.Name())
	case errors.Is(err, ErrNoAPIKey):
		metrics.AIFallbacks.Inc()
		return OfflineChat(question)
	case isAuthError(err):
		return msgKeyError
	case isRateLimited(err), errors.Is(err, errThrottled):
		return msgRateLimited
	}
	return msgGenericError
}

var creativePrompts = map[string]string{
	"pantun":   `Buatkan pantun lucu tentang: "%s". Format pantun Indonesia 4 baris dengan rima a-b-a-b.`,
	"puisi":    `Tulis puisi pendek dan indah tentang: "%s". Maksimal 8 baris.`,
	"joke":     `Buat lelucon atau joke lucu tentang: "%s". Singkat dan family-friendly.`,
	"motivasi": `Berikan kata-kata motivasi inspiratif tentang: "%s". Singkat tapi powerful.`,
	"tips":     `Berikan 3-5 tips praktis tentang: "%s". Format poin-poin yang mudah dibaca.`,
}

// Creative writes a short piece of the given kind. Any failure falls back to
// the offline text.
func (a *Assistant) Creative(ctx context.Context, topic, kind string) string {
	tmpl, ok := creativePrompts[kind]
	if !ok {
		tmpl = `Berikan respons kreatif dan menarik tentang: "%s". Singkat dan engaging.`
	}
	text, err := a.generate(ctx, fmt.Sprintf(tmpl, topic), Options{Temperature: 0.9, MaxTokens: 800})
	if err != nil {
		metrics.AIFallbacks.Inc()
		return OfflineCreative(topic, kind)
	}
	return fmt.Sprintf("✨ **%s Creative**\n\n%s\n\n🎨 *Generated by %s AI*", a.gen.Name(), text, a.gen.Name())
}

// Translate translates text into lang, falling back to the phrase table.
func (a *Assistant) Translate(ctx context.Context, text, lang string) string {
	prompt := fmt.Sprintf(`Terjemahkan teks berikut ke bahasa %s: "%s"

Berikan terjemahan yang akurat dan natural. Jika ada idiom atau ungkapan, berikan terjemahan yang setara.`, lang, text)

	out, err := a.generate(ctx, prompt, Options{Temperature: a.temperature, MaxTokens: a.maxTokens})
	if err != nil {
		metrics.AIFallbacks.Inc()
		return OfflineTranslate(text, lang)
	}
	return fmt.Sprintf("🌐 **Terjemahan**\n\n**Original:** %s\n**%s:** %s\n\n💡 *Translated by %s AI*", text, lang, out, a.gen.Name())
}

// Test sends a probe prompt and returns the raw answer. Unlike the command
// methods it reports failures as errors.
func (a *Assistant) Test(ctx context.Context) (string, error) {
	text, err := a.generate(ctx, `Test API key - jawab dengan "OK" saja`, Options{Temperature: a.temperature, MaxTokens: 20})
	if err != nil {
		return "", fmt.Errorf("ai test: %w", err)
	}
	return text, nil
}
