package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaTimeout = 120 * time.Second

// Ollama implements the Scanner interface using a local Ollama server.
// Vision models that work reasonably on receipts: llava, llava:1.6, qwen2-vl, bakllava.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanReceipt posts the image to Ollama's chat API and parses the reply
func (o *Ollama) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: ollamaSystemPrompt},
			{
				Role:    "user",
				Content: receiptPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	})
	if err != nil {
		return nil, extractionErr(StageModel, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, extractionErr(StageModel, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, extractionErr(StageModel, fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, extractionErr(StageModel, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(msg)))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, extractionErr(StageModel, fmt.Errorf("decoding response: %w", err))
	}

	data, err := parseReceiptJSON(chat.Message.Content)
	if err != nil {
		return nil, extractionErr(StageParse, err)
	}
	return data, nil
}

// Close is a no-op; the HTTP client holds no resources
func (o *Ollama) Close() error {
	return nil
}
