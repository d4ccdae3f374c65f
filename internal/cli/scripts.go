package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/scripts"
)

const (
	scriptsTableWidth   = 100
	checksumDisplayLen  = 12
	scriptNameDisplayed = 28
)

var scriptsYes bool

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Manage stored scripts",
	Long: `Manage scripts stored on the daemon.

Scripts are keyed by file name; uploading under an existing name
replaces the stored script in place, and jobs referencing that name
pick up the new content on their next fire.

Examples:
  oncue scripts upload backup.sh
  oncue scripts list
  oncue scripts rm backup.sh`,
}

var scriptsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload scripts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScriptsUpload,
}

var scriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scripts",
	RunE:  runScriptsList,
}

var scriptsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a stored script",
	Long: `Delete a stored script.

Deletion is refused while any job still references the script.`,
	Args: cobra.ExactArgs(1),
	RunE: runScriptsRm,
}

func init() {
	scriptsRmCmd.Flags().BoolVarP(&scriptsYes, "yes", "y", false, "Skip confirmation")

	scriptsCmd.AddCommand(scriptsUploadCmd)
	scriptsCmd.AddCommand(scriptsListCmd)
	scriptsCmd.AddCommand(scriptsRmCmd)

	addServerFlag(scriptsCmd)
	rootCmd.AddCommand(scriptsCmd)
}

func runScriptsUpload(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	ctx := context.Background()

	for _, path := range args {
		script, err := uploadScriptFile(ctx, client, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("✓ Uploaded %s (%d bytes, sha256 %s)\n",
			script.Name, script.Size, truncateChecksum(script.Checksum))
	}

	return nil
}

func uploadScriptFile(ctx context.Context, c *apiClient, path string) (*scripts.Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening script: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/scripts", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, handleErrorResponse(resp)
	}

	var script scripts.Script
	if err := json.NewDecoder(resp.Body).Decode(&script); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &script, nil
}

func runScriptsList(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var listResp struct {
		Scripts []*scripts.Script `json:"scripts"`
		Count   int               `json:"count"`
	}
	if err := client.doJSON(context.Background(), http.MethodGet, "/api/scripts", nil, &listResp); err != nil {
		return err
	}

	if len(listResp.Scripts) == 0 {
		fmt.Println("No scripts stored.")
		fmt.Println()
		fmt.Println("Upload one with:")
		fmt.Println("  oncue scripts upload <file>")
		return nil
	}

	fmt.Printf("%-28s %-10s %-14s %-20s\n", "NAME", "SIZE", "SHA256", "UPDATED")
	fmt.Println(strings.Repeat("-", scriptsTableWidth))

	for _, s := range listResp.Scripts {
		fmt.Printf("%-28s %-10d %-14s %-20s\n",
			truncateCell(s.Name, scriptNameDisplayed),
			s.Size,
			truncateChecksum(s.Checksum),
			s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func runScriptsRm(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !scriptsYes && !confirmAction(fmt.Sprintf("Delete script %q?", name)) {
		fmt.Println("Aborted.")
		return nil
	}

	client := newAPIClient()
	if err := client.doJSON(context.Background(), http.MethodDelete, "/api/scripts/"+url.PathEscape(name), nil, nil); err != nil {
		return err
	}

	fmt.Printf("✓ Script %q deleted\n", name)
	return nil
}

func truncateChecksum(sum string) string {
	if len(sum) > checksumDisplayLen {
		return sum[:checksumDisplayLen]
	}
	return sum
}
