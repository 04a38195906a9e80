package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
)

// ConnectClient drives the Kafka Connect control plane over its REST API.
type ConnectClient struct {
	baseURL string
	http    *http.Client
}

func NewConnectClient(baseURL string) *ConnectClient {
	return &ConnectClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: internal.ProvisionTimeout},
	}
}

type ConnectorStatus struct {
	Name       string
	State      string // RUNNING, PAUSED, FAILED, UNASSIGNED
	WorkerID   string
	TaskStates []string
	Trace      string
}

func (c *ConnectClient) CreateConnector(ctx context.Context, name string, config map[string]string) error {
	body, err := json.Marshal(map[string]any{"name": name, "config": config})
	if err != nil {
		return fmt.Errorf("encode connector payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/connectors", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		// Deterministic names make re-submission idempotent.
		return nil
	default:
		return connectError(resp, "create connector "+name)
	}
}

func (c *ConnectClient) Status(ctx context.Context, name string) (*ConnectorStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/connectors/"+url.PathEscape(name)+"/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: connector %q", models.ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, connectError(resp, "status of connector "+name)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}

	st := &ConnectorStatus{
		Name:     gjson.GetBytes(raw, "name").String(),
		State:    gjson.GetBytes(raw, "connector.state").String(),
		WorkerID: gjson.GetBytes(raw, "connector.worker_id").String(),
		Trace:    gjson.GetBytes(raw, "connector.trace").String(),
	}
	for _, task := range gjson.GetBytes(raw, "tasks").Array() {
		st.TaskStates = append(st.TaskStates, task.Get("state").String())
	}

	return st, nil
}

func (c *ConnectClient) Pause(ctx context.Context, name string) error {
	return c.verb(ctx, http.MethodPut, name, "pause")
}

func (c *ConnectClient) Resume(ctx context.Context, name string) error {
	return c.verb(ctx, http.MethodPut, name, "resume")
}

func (c *ConnectClient) Restart(ctx context.Context, name string) error {
	return c.verb(ctx, http.MethodPost, name, "restart")
}

// DeleteConnector removes a connector; 404 is treated as success so retried
// teardowns converge.
func (c *ConnectClient) DeleteConnector(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/connectors/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK ||
		resp.StatusCode == http.StatusNotFound {
		return nil
	}

	return connectError(resp, "delete connector "+name)
}

func (c *ConnectClient) verb(ctx context.Context, method, name, action string) error {
	resp, err := c.do(ctx, method, "/connectors/"+url.PathEscape(name)+"/"+action, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return connectError(resp, action+" connector "+name)
}

func (c *ConnectClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build connect request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: connect control plane: %v", models.ErrExternalSystem, err)
	}
	return resp, nil
}

func connectError(resp *http.Response, op string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := gjson.GetBytes(raw, "message").String()
	if msg == "" {
		msg = string(raw)
	}
	return fmt.Errorf("%w: %s: status %d: %s", models.ErrExternalSystem, op, resp.StatusCode, msg)
}
