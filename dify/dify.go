// Package dify calls the remote Dify workflows: the vision workflow turns a
// screenshot into text, the conversational workflow turns text into a reply
// plus an escalation flag.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chat-triage-bot/config"
)

const (
	maxVisionRetries = 3
	initialDelay     = 1 * time.Second
	requestTimeout   = 45 * time.Second
)

// fallbackReply is sent when the conversational workflow fails: the customer
// must never be left without any response, so failures force escalation.
const fallbackReply = "抱歉，系统暂时无法回答您的问题。"

// Inference is the surface the orchestrator depends on.
type Inference interface {
	ExtractText(ctx context.Context, imagePath, customerID string) (string, error)
	GenerateReply(ctx context.Context, customerID, message string) (string, bool)
}

// Client talks to the two Dify endpoints over plain HTTP with a bounded
// timeout. A hung remote call can no longer block the polling loop forever.
type Client struct {
	cfg  config.Dify
	http *http.Client
}

func NewClient(cfg config.Dify) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

type uploadResponse struct {
	ID string `json:"id"`
}

type visionRequest struct {
	Inputs       visionInputs `json:"inputs"`
	ResponseMode string       `json:"response_mode"`
	User         string       `json:"user"`
}

type visionInputs struct {
	Input visionFile `json:"input"`
}

type visionFile struct {
	TransferMethod string `json:"transfer_method"`
	UploadFileID   string `json:"upload_file_id"`
	Type           string `json:"type"`
}

type visionResponse struct {
	Data struct {
		Outputs string `json:"outputs"`
	} `json:"data"`
}

type chatRequest struct {
	Inputs       map[string]string `json:"inputs"`
	Query        string            `json:"query"`
	User         string            `json:"user"`
	ResponseMode string            `json:"response_mode"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

// uploadFile posts the image as multipart form data tagged with the customer
// id as the acting user, returning the opaque file handle.
func (c *Client) uploadFile(ctx context.Context, path, customerID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read screenshot: %w", err)
	}
	if err := writer.WriteField("user", customerID); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FileUploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.VisionAPIKey)

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload file: no file id in response")
	}
	return out.ID, nil
}

// ExtractText uploads the image and runs the vision workflow, blocking for a
// synchronous result. Any failure yields an error the caller must treat as
// "nothing usable was read from the screen", not a crash.
func (c *Client) ExtractText(ctx context.Context, imagePath, customerID string) (string, error) {
	fileID, err := c.uploadFile(ctx, imagePath, customerID)
	if err != nil {
		return "", err
	}

	request := visionRequest{
		Inputs: visionInputs{
			Input: visionFile{
				TransferMethod: "local_file",
				UploadFileID:   fileID,
				Type:           "image",
			},
		},
		ResponseMode: "blocking",
		User:         customerID,
	}

	var lastErr error
	for attempt := 0; attempt < maxVisionRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		var out visionResponse
		req, err := c.jsonRequest(ctx, c.cfg.VisionAPIURL, c.cfg.VisionAPIKey, request)
		if err != nil {
			return "", err
		}
		if err := c.do(req, &out); err != nil {
			lastErr = err
			continue
		}
		if out.Data.Outputs == "" {
			return "", fmt.Errorf("vision workflow returned no text")
		}
		return out.Data.Outputs, nil
	}
	return "", fmt.Errorf("vision workflow failed after %d attempts: %w", maxVisionRetries, lastErr)
}

// GenerateReply runs the conversational workflow with the customer id as the
// user identity so the remote side keeps per-customer conversational state.
// On any failure it returns a fixed apology with escalate=true; network
// trouble must never silently drop a customer.
func (c *Client) GenerateReply(ctx context.Context, customerID, message string) (string, bool) {
	request := chatRequest{
		Inputs:       map[string]string{},
		Query:        message,
		User:         customerID,
		ResponseMode: "blocking",
	}

	req, err := c.jsonRequest(ctx, c.cfg.ChatAPIURL, c.cfg.APIKey, request)
	if err != nil {
		log.Printf("Chat workflow request error: %v", err)
		return fallbackReply, true
	}

	var out chatResponse
	if err := c.do(req, &out); err != nil {
		log.Printf("Chat workflow call failed: %v", err)
		return fallbackReply, true
	}
	return ParseEscalation(out.Answer)
}

func (c *Client) jsonRequest(ctx context.Context, url, token string, payload interface{}) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
