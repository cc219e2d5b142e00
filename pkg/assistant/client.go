// Package assistant runs prompts through the OpenAI Assistants API:
// create a thread, post the prompt, start a run, poll until it finishes,
// and return the assistant's reply text.
package assistant

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a run does not reach a terminal status
// within the configured number of poll attempts.
var ErrTimeout = eris.New("assistant: run timed out")

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 30
)

// Client runs a prompt against a configured assistant and returns its reply.
type Client interface {
	Run(ctx context.Context, assistantID, prompt string) (string, error)
}

// Option configures the client.
type Option func(*apiClient)

// WithBaseURL overrides the OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *apiClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *apiClient) {
		c.httpClient = hc
	}
}

// WithPollInterval overrides the delay between run status checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *apiClient) {
		c.pollInterval = d
	}
}

// WithMaxPollAttempts overrides the number of status checks before the
// run is abandoned with ErrTimeout.
func WithMaxPollAttempts(n int) Option {
	return func(c *apiClient) {
		c.maxPollAttempts = n
	}
}

type apiClient struct {
	api             *openai.Client
	baseURL         string
	httpClient      *http.Client
	pollInterval    time.Duration
	maxPollAttempts int
	log             *zap.Logger
}

// NewClient creates an Assistants API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &apiClient{
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
		log:             zap.L().Named("assistant"),
	}
	for _, o := range opts {
		o(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

func (c *apiClient) Run(ctx context.Context, assistantID, prompt string) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", eris.Wrap(err, "assistant: create thread")
	}

	if _, err := c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: prompt,
	}); err != nil {
		return "", eris.Wrap(err, "assistant: create message")
	}

	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", eris.Wrap(err, "assistant: create run")
	}

	c.log.Debug("run started",
		zap.String("thread_id", thread.ID),
		zap.String("run_id", run.ID))

	run, err = c.waitForRun(ctx, thread.ID, run.ID)
	if err != nil {
		return "", err
	}

	return c.latestReply(ctx, thread.ID, run.ID)
}

// waitForRun polls the run status at a fixed interval until it completes,
// fails, or the attempt budget is exhausted.
func (c *apiClient) waitForRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	for attempt := 0; attempt < c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return openai.Run{}, eris.Wrap(ctx.Err(), "assistant: wait for run")
		case <-time.After(c.pollInterval):
		}

		run, err := c.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return openai.Run{}, eris.Wrap(err, "assistant: retrieve run")
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			msg := string(run.Status)
			if run.LastError != nil {
				msg = run.LastError.Message
			}
			return openai.Run{}, eris.Errorf("assistant: run %s ended %s: %s", runID, run.Status, msg)
		}
	}
	return openai.Run{}, ErrTimeout
}

// latestReply returns the text of the first assistant message produced by
// the run.
func (c *apiClient) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 10
	order := "desc"
	msgs, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", eris.Wrap(err, "assistant: list messages")
	}

	for _, msg := range msgs.Messages {
		if msg.Role != string(openai.ChatMessageRoleAssistant) {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil {
				return part.Text.Value, nil
			}
		}
	}
	return "", eris.Errorf("assistant: run %s produced no reply", runID)
}
