package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/job"
)

const defaultServerURL = "http://localhost:8090"

var serverURL string

// addServerFlag registers the daemon address flag on a client command group.
func addServerFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Daemon base URL (or ONCUE_SERVER, default "+defaultServerURL+")")
}

// apiClient talks to a running daemon over its HTTP API.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient() *apiClient {
	base := serverURL
	if base == "" {
		base = os.Getenv("ONCUE_SERVER")
	}
	if base == "" {
		base = defaultServerURL
	}

	return &apiClient{
		baseURL: strings.TrimSuffix(base, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *apiClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

// doJSON performs a request and decodes the response into out. Pass a nil
// out for responses whose body does not matter.
func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return handleErrorResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("parsing response: %w", decodeErr)
	}
	return nil
}

func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("server error: %s", errResp.Error)
	}

	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// resolveJob accepts a job ID or a job name. Names go through the list
// endpoint and must match exactly.
func (c *apiClient) resolveJob(ctx context.Context, ref string) (*job.Job, error) {
	var j job.Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(ref), nil, &j); err == nil {
		return &j, nil
	}

	var listResp struct {
		Jobs []*job.Job `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs?name="+url.QueryEscape(ref), nil, &listResp); err != nil {
		return nil, err
	}
	for _, cand := range listResp.Jobs {
		if cand.Name == ref {
			return cand, nil
		}
	}

	return nil, fmt.Errorf("no job with id or name %q", ref)
}

func confirmAction(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// formatTimePtr renders an optional timestamp for table output.
func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
