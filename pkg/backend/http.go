package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

const (
	converseTimeout   = 60 * time.Second
	transcribeTimeout = 35 * time.Second

	// Transient transport failures are retried this many extra times
	// before ErrUnavailable surfaces.
	maxRetries = 2
)

// HTTPConfig configures the HTTP transport to the speech/chat service.
type HTTPConfig struct {
	// BaseURL is the service root, e.g. "https://api.example.com".
	BaseURL string `json:"base_url"`

	// Token is the bearer token sent with every request. Empty sends no
	// Authorization header.
	Token string `json:"token"`
}

// HTTPClient implements Client over multipart HTTP uploads.
type HTTPClient struct {
	config HTTPConfig
	client *http.Client

	onDebug func(category, message string)
}

// NewHTTPClient creates a backend client. A nil http.Client gets a
// default with no overall timeout; per-call deadlines come from the
// operation contexts.
func NewHTTPClient(config HTTPConfig, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{config: config, client: client}
}

// SetDebug installs an optional debug callback.
func (c *HTTPClient) SetDebug(fn func(category, message string)) {
	c.onDebug = fn
}

type converseResponse struct {
	UserText     string `json:"user_text"`
	ResponseText string `json:"response_text"`
	AudioURL     string `json:"audio_url"`
	HistoryRef   string `json:"history_ref"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Converse uploads the utterance and returns the full turn result.
func (c *HTTPClient) Converse(ctx context.Context, req ConverseRequest) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, converseTimeout)
	defer cancel()

	fields := map[string]string{
		"voice":    string(req.Voice),
		"language": req.Language,
	}
	if req.HistoryRef != "" {
		fields["history_ref"] = req.HistoryRef
	}

	var out converseResponse
	if err := c.upload(ctx, "/api/voice-chat", req.Audio, fields, &out); err != nil {
		return nil, err
	}
	return &TurnResult{
		Transcript:   out.UserText,
		ResponseText: out.ResponseText,
		AudioURL:     out.AudioURL,
		HistoryRef:   out.HistoryRef,
	}, nil
}

// Transcribe uploads the audio and returns the recognized text.
func (c *HTTPClient) Transcribe(ctx context.Context, audio *capture.AudioRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	var out transcribeResponse
	if err := c.upload(ctx, "/api/voice-to-text", audio, nil, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// upload posts a multipart form with the audio file plus extra fields and
// decodes the JSON response into out. Transport failures are retried with
// exponential backoff; service errors are not.
func (c *HTTPClient) upload(ctx context.Context, path string, audio *capture.AudioRef, fields map[string]string, out any) error {
	if audio == nil || len(audio.Data) == 0 {
		return fmt.Errorf("backend: empty audio")
	}

	body, contentType, err := buildMultipart(audio, fields)
	if err != nil {
		return fmt.Errorf("backend: build upload: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("backend: build request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		if c.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.Token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.debug("BACKEND", fmt.Sprintf("Transport failure on %s: %v", path, err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			// Service-side blip; worth another attempt.
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(decodeAPIError(resp))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("backend: decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		if permanentOther(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// permanentOther reports whether err is a non-retry failure that should
// surface as-is rather than as ErrUnavailable.
func permanentOther(err error) bool {
	return errors.Is(err, context.Canceled)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Detail != "" {
			apiErr.Detail = body.Detail
		} else {
			apiErr.Detail = body.Message
		}
	}
	return apiErr
}

func buildMultipart(audio *capture.AudioRef, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio_file"; filename="recording.wav"`)
	h.Set("Content-Type", audioContentType(audio.Format))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(audio.Data)); err != nil {
		return nil, "", err
	}

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func audioContentType(format string) string {
	switch format {
	case "wav", "pcm_s16le":
		return "audio/wav"
	case "m4a":
		return "audio/m4a"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func (c *HTTPClient) debug(category, message string) {
	if c.onDebug != nil {
		c.onDebug(category, message)
	}
}
