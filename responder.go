package lexiread

import (
	"context"
	"strings"

	"github.com/chyroc/gorequests"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Responder produces the bot reply for one user message.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

type ResponderFunc func(ctx context.Context, text string) (string, error)

func (f ResponderFunc) Reply(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// TokenSource supplies the bearer token for authenticated calls.
// *Authenticator implements it.
type TokenSource interface {
	Token() string
}

// HTTPResponder posts messages to the LexiRead chat endpoint.
type HTTPResponder struct {
	url       string
	tokens    TokenSource
	transport *transport
}

func NewHTTPResponder(config *Config, tokens TokenSource) *HTTPResponder {
	return &HTTPResponder{
		url:       config.chatURL(),
		tokens:    tokens,
		transport: &transport{config: config, logger: logrus.StandardLogger()},
	}
}

func (r *HTTPResponder) WithLogger(logger *logrus.Logger) *HTTPResponder {
	r.transport.logger = logger
	return r
}

func (r *HTTPResponder) WithSession(session *gorequests.Session) *HTTPResponder {
	r.transport.session = session
	return r
}

func (r *HTTPResponder) Reply(ctx context.Context, text string) (string, error) {
	token := ""
	if r.tokens != nil {
		token = r.tokens.Token()
	}
	resp := &BotResponse{}
	if err := r.transport.post(ctx, r.url, token, &BotRequest{Message: text}, resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Reply) == "" {
		return "", newError(CodeDecode, "empty bot reply")
	}
	return resp.Reply, nil
}

const defaultSystemPrompt = "You are LexiRead's reading companion. Help the learner understand the text they are reading: " +
	"explain vocabulary, grammar and meaning in simple language, and keep answers short."

// OpenAIResponder answers through an OpenAI compatible chat completion API.
type OpenAIResponder struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIResponder(config *Config) (*OpenAIResponder, error) {
	if config.OpenAIKey == "" {
		return nil, newError(CodeConfig, "openai key cannot be empty")
	}
	oc := openai.DefaultConfig(config.OpenAIKey)
	if config.OpenAIBaseURL != "" {
		oc.BaseURL = config.OpenAIBaseURL
	}
	model := config.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIResponder{
		client:       openai.NewClientWithConfig(oc),
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}, nil
}

func (r *OpenAIResponder) WithSystemPrompt(prompt string) *OpenAIResponder {
	r.systemPrompt = prompt
	return r
}

func (r *OpenAIResponder) Reply(ctx context.Context, text string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if r.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &Error{Code: CodeServer, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
		}
		return "", wrapError(CodeTransport, err, "chat completion failed")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", newError(CodeDecode, "chat completion has no content")
	}
	return resp.Choices[0].Message.Content, nil
}
