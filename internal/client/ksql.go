package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
)

// KsqlClient talks to the stream processor's single-statement endpoint.
type KsqlClient struct {
	baseURL string
	http    *http.Client
}

func NewKsqlClient(baseURL string) *KsqlClient {
	return &KsqlClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: internal.ProvisionTimeout},
	}
}

type KsqlResult struct {
	StatementText string
	Status        string
	QueryID       string
	Raw           string
}

// Execute runs a DDL statement (CREATE STREAM/TABLE, CREATE ... AS SELECT,
// DROP, TERMINATE, DESCRIBE, SHOW). "Already exists" conflicts are folded
// into success since all emitted DDL uses IF NOT EXISTS semantics.
func (c *KsqlClient) Execute(ctx context.Context, statement string, props map[string]string) (*KsqlResult, error) {
	payload := map[string]any{"ksql": statement}
	if len(props) > 0 {
		payload["streamsProperties"] = props
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ksql payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ksql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ksql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.ksql.v1+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stream processor: %v", models.ErrExternalSystem, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ksql response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "message").String()
		if strings.Contains(strings.ToLower(msg), "already exists") {
			return &KsqlResult{StatementText: statement, Status: "SUCCESS", Raw: string(raw)}, nil
		}
		return nil, fmt.Errorf("%w: ksql statement failed: status %d: %s", models.ErrExternalSystem, resp.StatusCode, msg)
	}

	first := gjson.GetBytes(raw, "0")
	return &KsqlResult{
		StatementText: statement,
		Status:        first.Get("commandStatus.status").String(),
		QueryID:       firstNonEmpty(first.Get("commandStatus.queryId").String(), first.Get("queryId").String()),
		Raw:           string(raw),
	}, nil
}

// Query runs a pull/peek query against /query and returns the decoded rows.
// Used by preview flows with auto.offset.reset=earliest.
func (c *KsqlClient) Query(ctx context.Context, sql string, limit int) ([][]any, error) {
	payload := map[string]any{
		"ksql":              sql,
		"streamsProperties": map[string]string{"ksql.streams.auto.offset.reset": "earliest"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.ksql.v1+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stream processor: %v", models.ErrExternalSystem, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ksql query failed: status %d: %s",
			models.ErrExternalSystem, resp.StatusCode, gjson.GetBytes(raw, "message").String())
	}

	// Rows stream back as newline-delimited JSON.
	var rows [][]any
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.Trim(scanner.Text(), ","))
		if line == "" || line == "[" || line == "]" {
			continue
		}

		cols := gjson.Get(line, "row.columns")
		if !cols.Exists() {
			continue
		}

		var row []any
		if err := json.Unmarshal([]byte(cols.Raw), &row); err != nil {
			continue
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

type KsqlInfo struct {
	Version   string
	ClusterID string
	ServiceID string
}

func (c *KsqlClient) Info(ctx context.Context) (*KsqlInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build info request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stream processor: %v", models.ErrExternalSystem, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read info response: %w", err)
	}

	return &KsqlInfo{
		Version:   gjson.GetBytes(raw, "KsqlServerInfo.version").String(),
		ClusterID: gjson.GetBytes(raw, "KsqlServerInfo.kafkaClusterId").String(),
		ServiceID: gjson.GetBytes(raw, "KsqlServerInfo.ksqlServiceId").String(),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
