package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/bskygeo/listkeeper/config"
	"github.com/bskygeo/listkeeper/models"
)

// MaxBatch is the largest number of profiles sent in one classification
// request.
const MaxBatch = 20

// MaxPosts bounds the post sample included in an evaluation prompt.
const MaxPosts = 50

var ErrEmptyResponse = errors.New("classifier returned no choices")

// Client asks an OpenAI-compatible chat completion endpoint to judge
// accounts. The default endpoint is Anthropic's compatibility layer.
type Client struct {
	api    *openai.Client
	model  string
	retry  config.Retry
	logger *slog.Logger

	categories  []string
	entityTypes []string
}

func New(cfg config.Classifier, retry config.Retry, logger *slog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		retry:       retry,
		logger:      logger,
		categories:  models.DefaultCategories,
		entityTypes: models.DefaultEntityTypes,
	}
}

// WithVocabulary replaces the categories and entity types offered to the
// model, normally with the ones stored in the settings record.
func (c *Client) WithVocabulary(categories, entityTypes []string) *Client {
	if len(categories) > 0 {
		c.categories = categories
	}
	if len(entityTypes) > 0 {
		c.entityTypes = entityTypes
	}
	return c
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	attempts := c.retry.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	var content string
	err := retry.Do(func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		content = resp.Choices[0].Message.Content
		return nil
	},
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(c.retry.Delay),
		retry.MaxDelay(c.retry.MaxDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying classifier request", "attempt", n+1, "err", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	return content, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}

// Evaluate judges whether an account belongs on the list. A response that
// cannot be parsed yields an unknown verdict rather than an error; errors
// are reserved for failures to reach the service.
func (c *Client) Evaluate(ctx context.Context, profile models.Profile, posts []string) (*models.Verdict, error) {
	if len(posts) > MaxPosts {
		posts = posts[:MaxPosts]
	}

	prompt, err := render("evaluate.tmpl", evaluateParams{
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Bio:         profile.Description,
		Followers:   profile.FollowersCount,
		Following:   profile.FollowsCount,
		Posts:       posts,
		Categories:  c.categories,
		EntityTypes: c.entityTypes,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, prompt, 1024)
	if err != nil {
		return nil, err
	}

	return ParseVerdict(raw), nil
}

// ParseVerdict decodes an evaluation response. Anything malformed degrades
// to an unknown verdict carrying the raw text.
func ParseVerdict(raw string) *models.Verdict {
	body := stripFences(raw)

	var v models.Verdict
	if err := decodeJSON(body, '{', '}', &v); err != nil {
		return models.UnknownVerdict("failed to parse classifier response: "+truncate(body, 200), raw)
	}

	v.Confidence = clamp(v.Confidence)
	v.EntityType = strings.ToLower(strings.TrimSpace(v.EntityType))
	if v.EntityType == "" {
		v.EntityType = models.Unknown
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}
	return &v
}

type account struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

// ClassifyBatch assigns an entity type and bot flag to up to MaxBatch
// profiles. The result has one entry per input profile, in input order.
func (c *Client) ClassifyBatch(ctx context.Context, profiles []models.Profile) ([]models.Classification, error) {
	if len(profiles) == 0 {
		return nil, nil
	}
	if len(profiles) > MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds the maximum of %d", len(profiles), MaxBatch)
	}

	accounts := make([]account, len(profiles))
	for i, p := range profiles {
		accounts[i] = account{Handle: p.Handle, DisplayName: p.DisplayName, Bio: p.Description}
	}
	accountsJSON, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return nil, err
	}

	prompt, err := render("classify.tmpl", classifyParams{
		Accounts:    string(accountsJSON),
		EntityTypes: c.entityTypes,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, err
	}

	return ParseClassifications(raw, profiles), nil
}

// ParseClassifications aligns a batch response with the profiles it was
// asked about. Results are matched by handle where possible and by position
// otherwise; profiles without a usable result are unknown.
func ParseClassifications(raw string, profiles []models.Profile) []models.Classification {
	out := make([]models.Classification, len(profiles))
	for i, p := range profiles {
		out[i] = models.UnknownClassification(p.Handle)
	}

	var results []models.Classification
	if err := decodeJSON(stripFences(raw), '[', ']', &results); err != nil {
		return out
	}

	byHandle := make(map[string]models.Classification, len(results))
	for _, r := range results {
		byHandle[strings.ToLower(models.NormalizeActor(r.Handle))] = r
	}

	for i, p := range profiles {
		r, ok := byHandle[strings.ToLower(p.Handle)]
		if !ok && len(results) == len(profiles) {
			r, ok = results[i], true
		}
		if !ok {
			continue
		}
		r.Handle = p.Handle
		r.EntityType = strings.ToLower(strings.TrimSpace(r.EntityType))
		if r.EntityType == "" {
			r.EntityType = models.Unknown
		}
		r.Confidence = clamp(r.Confidence)
		out[i] = r
	}
	return out
}

// IsListRequest asks whether a DM transcript is a request to join the list.
// An unparseable answer counts as "not a request".
func (c *Client) IsListRequest(ctx context.Context, transcript string) (*models.ListRequest, error) {
	prompt, err := render("list_request.tmpl", listRequestParams{Transcript: transcript})
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, prompt, 256)
	if err != nil {
		return nil, err
	}

	var req models.ListRequest
	if err := decodeJSON(stripFences(raw), '{', '}', &req); err != nil {
		c.logger.Debug("unparseable list request verdict", "response", truncate(raw, 200))
		return &models.ListRequest{}, nil
	}
	return &req, nil
}

// stripFences removes markdown code fence lines the model sometimes wraps
// JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// decodeJSON decodes s into v, retrying on the outermost open..close span
// when the model put prose around the JSON.
func decodeJSON(s string, open, closing byte, v any) error {
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}

	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return err
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
