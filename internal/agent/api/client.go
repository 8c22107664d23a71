// Package api is the exam device's HTTP client for the session endpoints.
// It speaks the standard response envelope and classifies failures so the
// retry layer can tell a flaky network from a rejected request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/examtrail/examtrail/internal/model"
)

const defaultTimeout = 15 * time.Second

// Client calls the session API on behalf of one examinee device.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the given server base URL (no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// envelope mirrors the server's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// Login authenticates the examinee and stores the session token.
func (c *Client) Login(ctx context.Context, examineeNo, password string) (*model.Examinee, error) {
	var out struct {
		Token    string          `json:"token"`
		Examinee *model.Examinee `json:"examinee"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/examinee/login",
		model.ExamineeLoginRequest{ExamineeNo: examineeNo, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Token
	return out.Examinee, nil
}

// Logout releases the single-device session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/examinee/logout", nil, nil)
}

// ValidateCode exchanges an exam access code for exam metadata.
func (c *Client) ValidateCode(ctx context.Context, code string) (*model.ExamMetadata, error) {
	var out struct {
		Exam *model.ExamMetadata `json:"exam"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/session/validate-code",
		model.ValidateCodeRequest{ExamCode: code}, &out)
	if err != nil {
		return nil, err
	}
	return out.Exam, nil
}

// GetQuestions fetches the ordered paper for one phase.
func (c *Client) GetQuestions(ctx context.Context, refNo string, phase model.Phase) (*model.ExamPaper, error) {
	var out struct {
		Paper *model.ExamPaper `json:"paper"`
	}
	path := fmt.Sprintf("/api/v1/session/exams/%s/questions?phase=%s",
		url.PathEscape(refNo), url.QueryEscape(string(phase)))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Paper, nil
}

// Autosave pushes one answer selection. The saved flag reports whether the
// server accepted it into its write path.
func (c *Client) Autosave(ctx context.Context, req *model.AutosaveRequest) (bool, error) {
	var out struct {
		Saved bool `json:"saved"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/progress", req, &out); err != nil {
		return false, err
	}
	return out.Saved, nil
}

// FetchProgress recovers saved answers and the remaining-seconds snapshot.
func (c *Client) FetchProgress(ctx context.Context, refNo string) (*model.ExamProgress, error) {
	var out struct {
		Progress *model.ExamProgress `json:"progress"`
	}
	path := fmt.Sprintf("/api/v1/session/exams/%s/progress", url.PathEscape(refNo))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Progress, nil
}

// ClearProgress discards all saved progress for the exam reference.
func (c *Client) ClearProgress(ctx context.Context, refNo string) error {
	path := fmt.Sprintf("/api/v1/session/exams/%s/progress", url.PathEscape(refNo))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// NotifyStarted reports phase entry for proctor monitoring.
func (c *Client) NotifyStarted(ctx context.Context, refNo string, examType model.ExamType, phase model.Phase) error {
	path := fmt.Sprintf("/api/v1/session/exams/%s/started", url.PathEscape(refNo))
	return c.do(ctx, http.MethodPost, path, model.StartedRequest{ExamType: examType, Phase: phase}, nil)
}

// NotifyStopped reports that the device left the exam.
func (c *Client) NotifyStopped(ctx context.Context, refNo string) error {
	path := fmt.Sprintf("/api/v1/session/exams/%s/stopped", url.PathEscape(refNo))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Submit sends the final answer set and returns the scored result.
func (c *Client) Submit(ctx context.Context, refNo string, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	var out model.SubmitResponse
	path := fmt.Sprintf("/api/v1/session/exams/%s/submit", url.PathEscape(refNo))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: all retryable.
		return &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: method + " " + path, Err: err}
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return &TransientError{Op: method + " " + path, Err: fmt.Errorf("malformed response: %w", err)}
		}
	}

	if resp.StatusCode >= 400 {
		return classify(resp.StatusCode, &env)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// authCodes are the envelope codes that mean the token or device session was
// rejected. A 401 can also refuse the request itself (a wrong exam code comes
// back 401 INVALID_EXAM_CODE); that is a rejection of the input, not of the
// credentials, and must not force a logout.
var authCodes = map[string]struct{}{
	"TOKEN_REQUIRED":         {},
	"TOKEN_INVALID":          {},
	"TOKEN_EXPIRED":          {},
	"SESSION_INVALIDATED":    {},
	"SESSION_ALREADY_ACTIVE": {},
	"INVALID_CREDENTIALS":    {},
	"EXAMINEE_ACCESS_ONLY":   {},
	"PROCTOR_ACCESS_ONLY":    {},
	"FORBIDDEN":              {},
}

func classify(status int, env *envelope) error {
	code, message := "", ""
	var fields map[string]string
	if env.Error != nil {
		code = env.Error.Code
		message = env.Error.Message
		fields = env.Error.Fields
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if _, ok := authCodes[code]; ok || code == "" {
			return &AuthError{Status: status, Code: code, Message: message}
		}
		return &ValidationError{Status: status, Code: code, Message: message, Fields: fields}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Op: code, Err: fmt.Errorf("status %d: %s", status, message)}
	default:
		return &ValidationError{Status: status, Code: code, Message: message, Fields: fields}
	}
}
