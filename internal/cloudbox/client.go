// Package cloudbox is a minimal client for the managed sandbox provider API:
// sandbox lifecycle, command execution, and file transfer.
package cloudbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the provider API endpoint, overridable per client.
const DefaultBaseURL = "https://api.cloudbox.dev"

// State is a sandbox lifecycle state as reported by the provider.
type State string

const (
	StateCreating State = "creating"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
	StateDeleting State = "deleting"
	StateDeleted  State = "deleted"
)

// IsRunning reports whether the sandbox can execute commands.
func (s State) IsRunning() bool {
	return s == StateStarted
}

// IsTerminal reports whether the sandbox can never become running again.
func (s State) IsTerminal() bool {
	return s == StateError || s == StateDeleted
}

// Sandbox is the provider's sandbox resource.
type Sandbox struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Snapshot string `json:"snapshot,omitempty"`
	Target   string `json:"target,omitempty"`

	// ErrorReason is set when State is error.
	ErrorReason string `json:"errorReason,omitempty"`
}

// CreateRequest configures a new sandbox.
type CreateRequest struct {
	Snapshot string            `json:"snapshot,omitempty"`
	Target   string            `json:"target,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// ExecRequest runs a command inside a sandbox.
type ExecRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// ExecResult is the provider's buffered command result.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

// FileInfo is the provider's file metadata.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDir"`
	ModTime time.Time `json:"modTime"`
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudbox API error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the provider API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a Client. baseURL empty means DefaultBaseURL.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// CreateSandbox provisions a new sandbox. The returned sandbox is usually
// still creating; poll with WaitForState.
func (c *Client) CreateSandbox(ctx context.Context, req CreateRequest) (*Sandbox, error) {
	var sb Sandbox
	if err := c.do(ctx, http.MethodPost, "/sandbox", req, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// GetSandbox fetches current sandbox state.
func (c *Client) GetSandbox(ctx context.Context, id string) (*Sandbox, error) {
	var sb Sandbox
	if err := c.do(ctx, http.MethodGet, "/sandbox/"+url.PathEscape(id), nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// StartSandbox starts a stopped sandbox.
func (c *Client) StartSandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sandbox/"+url.PathEscape(id)+"/start", nil, nil)
}

// StopSandbox stops a running sandbox.
func (c *Client) StopSandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sandbox/"+url.PathEscape(id)+"/stop", nil, nil)
}

// DeleteSandbox removes a sandbox. force tears down a running one.
func (c *Client) DeleteSandbox(ctx context.Context, id string, force bool) error {
	path := "/sandbox/" + url.PathEscape(id)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Execute runs a command in the sandbox and returns its buffered result.
func (c *Client) Execute(ctx context.Context, id string, req ExecRequest) (*ExecResult, error) {
	var res ExecResult
	path := "/sandbox/" + url.PathEscape(id) + "/exec"
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StatFile fetches metadata for a path in the sandbox.
func (c *Client) StatFile(ctx context.Context, id, filePath string) (*FileInfo, error) {
	var info FileInfo
	path := "/sandbox/" + url.PathEscape(id) + "/files/info?path=" + url.QueryEscape(filePath)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateFolder creates a directory tree in the sandbox.
func (c *Client) CreateFolder(ctx context.Context, id, folderPath string) error {
	path := "/sandbox/" + url.PathEscape(id) + "/files/folder?path=" + url.QueryEscape(folderPath)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// DownloadFile streams a file out of the sandbox. The caller must close the
// returned reader.
func (c *Client) DownloadFile(ctx context.Context, id, filePath string) (io.ReadCloser, error) {
	path := "/sandbox/" + url.PathEscape(id) + "/files/download?path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", filePath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	return resp.Body, nil
}

// UploadFile streams content into a sandbox path.
func (c *Client) UploadFile(ctx context.Context, id, filePath string, content io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filePath)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	path := "/sandbox/" + url.PathEscape(id) + "/files/upload?path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	return nil
}

// WaitForState polls until the sandbox reaches target, reporting each
// observed state change through onState. A terminal state other than the
// target fails immediately.
func (c *Client) WaitForState(ctx context.Context, id string, target State, onState func(State)) error {
	var last State
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		sb, err := c.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		if sb.State != last {
			last = sb.State
			if onState != nil {
				onState(sb.State)
			}
		}
		if sb.State == target {
			return nil
		}
		if sb.State.IsTerminal() {
			if sb.ErrorReason != "" {
				return fmt.Errorf("sandbox %s entered state %s: %s", id, sb.State, sb.ErrorReason)
			}
			return fmt.Errorf("sandbox %s entered state %s", id, sb.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
