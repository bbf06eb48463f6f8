package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
)

// AssistantService answers platform help questions with Gemini. It backs
// the in-app helpdesk widget; it has no part in the upload pipeline.
type AssistantService struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// AssistantServiceOption is a functional option for AssistantService
type AssistantServiceOption func(*AssistantService)

// AssistantWithClient sets the Gemini client
func AssistantWithClient(client *genai.Client) AssistantServiceOption {
	return func(s *AssistantService) {
		s.client = client
	}
}

// AssistantWithModel overrides the default model
func AssistantWithModel(model string) AssistantServiceOption {
	return func(s *AssistantService) {
		s.model = model
	}
}

// AssistantWithLogger sets the logger
func AssistantWithLogger(l *zap.Logger) AssistantServiceOption {
	return func(s *AssistantService) {
		s.logger = l
	}
}

// NewAssistantService creates a new assistant service
func NewAssistantService(opts ...AssistantServiceOption) *AssistantService {
	s := &AssistantService{
		model:  "gemini-1.5-flash",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var ErrAssistantUnavailable = errors.New("assistant is not configured")

const assistantInstruction = `You are the DShare helpdesk assistant. DShare is a
decentralized file-sharing platform: uploads are malware-scanned, stored on
IPFS, and registered on an Ethereum smart contract with private, public or
shared visibility. Answer questions about using the platform. Be concise.
If a question is unrelated to DShare, say so politely.`

// ChatRequest represents one assistant question
type ChatRequest struct {
	Message  string
	Username string
}

// ChatResult represents the assistant's reply
type ChatResult struct {
	Reply string
}

// Chat sends the user's question to the model and returns the reply text.
func (s *AssistantService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if s.client == nil {
		return nil, ErrAssistantUnavailable
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}

	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(assistantInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Message))
	if err != nil {
		s.logger.Error("assistant generation failed",
			zap.String("username", req.Username),
			zap.Error(err))
		return nil, err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return nil, errors.New("assistant returned no content")
	}

	return &ChatResult{Reply: sb.String()}, nil
}
