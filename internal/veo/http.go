package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"veogen/internal/httputil"
	"veogen/internal/state"
)

// DefaultBaseURL is the Gemini API endpoint serving the Veo models.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// HTTPClient implements Client against the Gemini REST API. The API key is
// sent as a header, never as a query parameter, so it cannot leak through
// request logs.
type HTTPClient struct {
	apiKey  string
	baseURL string
	retry   httputil.RetryConfig
}

func NewHTTPClient(apiKey, baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		retry:   httputil.DefaultRetryConfig(),
	}
}

type submitRequest struct {
	Instances  []submitInstance `json:"instances"`
	Parameters submitParameters `json:"parameters"`
}

type submitInstance struct {
	Prompt string `json:"prompt"`
}

type submitParameters struct {
	SampleCount      int    `json:"sampleCount"`
	AspectRatio      string `json:"aspectRatio,omitempty"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	Seed             *int64 `json:"seed,omitempty"`
	EnhancePrompt    bool   `json:"enhancePrompt,omitempty"`
	GenerateAudio    bool   `json:"generateAudio,omitempty"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// Submit starts a long-running generation and returns the operation name.
func (c *HTTPClient) Submit(ctx context.Context, p state.Params) (string, error) {
	payload := submitRequest{
		Instances: []submitInstance{{Prompt: p.Prompt}},
		Parameters: submitParameters{
			SampleCount:      p.NumberOfVideos,
			AspectRatio:      p.AspectRatio,
			NegativePrompt:   p.NegativePrompt,
			PersonGeneration: p.PersonGeneration,
			Resolution:       p.Resolution,
			DurationSeconds:  p.DurationSeconds,
			Seed:             p.Seed,
			EnhancePrompt:    p.EnhancePrompt,
			GenerateAudio:    p.GenerateAudio,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, p.Model)
	var op operationResponse
	if err := c.doJSON(ctx, http.MethodPost, url, body, &op); err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("submit generation: no operation name in response")
	}
	return op.Name, nil
}

// Poll fetches the current status of an operation.
func (c *HTTPClient) Poll(ctx context.Context, operation string) (*OperationStatus, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(operation, "/"))
	var op operationResponse
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &op); err != nil {
		return nil, fmt.Errorf("poll operation: %w", err)
	}

	status := &OperationStatus{Done: op.Done}
	if !op.Done {
		status.Progress = "generation in progress"
		return status, nil
	}
	if op.Error != nil {
		status.Failure = &state.Failure{
			Stage:   "generate",
			Message: fmt.Sprintf("remote error %d: %s", op.Error.Code, op.Error.Message),
		}
		return status, nil
	}
	if op.Response == nil || op.Response.GenerateVideoResponse == nil {
		status.Failure = &state.Failure{Stage: "generate", Message: "operation finished without a result payload"}
		return status, nil
	}
	for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
		mime := sample.Video.MimeType
		if mime == "" {
			mime = "video/mp4"
		}
		status.Videos = append(status.Videos, state.Video{URI: sample.Video.URI, MimeType: mime})
	}
	if len(status.Videos) == 0 {
		status.Failure = &state.Failure{Stage: "generate", Message: "operation finished with zero videos"}
	}
	return status, nil
}

// Fetch streams the bytes of one result artifact to w.
func (c *HTTPClient) Fetch(ctx context.Context, video state.Video, w io.Writer) error {
	if video.URI == "" {
		return fmt.Errorf("fetch video: empty uri")
	}
	resp, err := httputil.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, video.URI, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		return req, nil
	}, c.retry)
	if err != nil {
		return fmt.Errorf("fetch video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch video: %s", apiError(resp))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream video bytes: %w", err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	resp, err := httputil.Do(ctx, func() (*http.Request, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, c.retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s", apiError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError extracts a short diagnostic from a non-200 response body.
func apiError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
