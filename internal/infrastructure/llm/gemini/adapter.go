// Package gemini adapts the Google GenAI client to the LLM and file upload
// ports.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/logger"

	"google.golang.org/genai"
)

var (
	_ output.LLMPort      = (*Adapter)(nil)
	_ output.FileUploader = (*Adapter)(nil)
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// EnableGrounding adds the built-in Google Search tool.
	EnableGrounding bool
	// EnableURLContext lets the model read URLs mentioned in the prompt.
	EnableURLContext bool
	IncludeThoughts  bool
	Logger           output.LoggerPort
}

type Adapter struct {
	client *genai.Client
	model  string
	cfg    Config
	logger output.LoggerPort
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Adapter{client: client, model: cfg.Model, cfg: cfg, logger: log}, nil
}

func (a *Adapter) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	system, contents := convertMessages(req.Messages)
	config := a.generationConfig(req, system)

	a.logger.Debug("Generating content",
		"model", a.model,
		"contents", len(contents),
		"tools", len(req.Tools))

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.UsageMetadata != nil {
		a.logger.Debug("Token usage",
			"prompt", resp.UsageMetadata.PromptTokenCount,
			"candidates", resp.UsageMetadata.CandidatesTokenCount,
			"total", resp.UsageMetadata.TotalTokenCount)
	}

	msg, err := convertResponse(resp)
	if err != nil {
		return nil, err
	}
	return &output.ChatResponse{Message: msg, Raw: resp}, nil
}

func (a *Adapter) generationConfig(req output.ChatRequest, system *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       req.Config.Temperature,
	}

	if a.cfg.EnableGrounding {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if a.cfg.EnableURLContext {
		config.Tools = append(config.Tools, &genai.Tool{URLContext: &genai.URLContext{}})
	}
	if decls := convertTools(req.Tools); len(decls) > 0 {
		config.Tools = append(config.Tools, &genai.Tool{FunctionDeclarations: decls})
	}

	if b := req.Config.ThinkingBudget; b != nil {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: a.cfg.IncludeThoughts,
			ThinkingBudget:  genai.Ptr(int32(*b)),
		}
	} else if a.cfg.IncludeThoughts {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	if req.Config.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schemaFromMap(req.Config.ResponseSchema)
	}
	return config
}

// UploadFile stores data with the Files API and returns its handle.
func (a *Adapter) UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (entity.FileRef, error) {
	f, err := a.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return entity.FileRef{}, fmt.Errorf("gemini: upload %s: %w", displayName, err)
	}
	a.logger.Debug("Uploaded file", "name", f.Name, "uri", f.URI, "mime", f.MIMEType)
	return entity.FileRef{URI: f.URI, MIMEType: f.MIMEType, Name: displayName}, nil
}
