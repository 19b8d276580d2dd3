// Package translate is the HTTP client for the external translation
// collaborators. Calls are bounded by a timeout and never retried; callers
// that can tolerate a miss treat failures as cache misses.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// Translator is what the delivery path depends on; the concrete client talks
// to the external service over HTTP.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
	TranslateVoice(ctx context.Context, audio []byte, targetLang string) (*VoiceResult, error)
}

// VoiceResult is the voice collaborator's reply. Either field may be empty
// depending on what the backend produced.
type VoiceResult struct {
	TranslatedText     string `json:"translatedText,omitempty"`
	TranslatedAudioRef string `json:"translatedAudioReference,omitempty"`
}

// Client calls the translation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the translation service at baseURL. The
// timeout bounds every call, including the voice path.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Text               string `json:"text"`
	TargetLanguageCode string `json:"targetLanguageCode"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// Translate translates text into the target language.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, TargetLanguageCode: targetLang})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return "", fmt.Errorf("translation service error (status %d): %s", resp.StatusCode, out.Error)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("translation service returned empty text")
	}
	return out.TranslatedText, nil
}

// TranslateVoice uploads an audio blob for translation into the target
// language.
func (c *Client) TranslateVoice(ctx context.Context, audio []byte, targetLang string) (*VoiceResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", "message.webm")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := w.WriteField("targetLanguageCode", targetLang); err != nil {
		return nil, fmt.Errorf("failed to write field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate_voice", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice translation service error (status %d)", resp.StatusCode)
	}

	var out VoiceResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
