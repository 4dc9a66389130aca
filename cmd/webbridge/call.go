package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/webbridge/internal/httpapi"
)

func newCallCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "call <channel> [args-json]",
		Short: "Call a channel on the peer and print the reply",
		Long: `Send a correlated request through a running "webbridge serve" and print
the reply data as JSON.

Examples:
  # Ask the peer for its state
  webbridge call getWebviewData

  # Pass arguments and bound the wait
  webbridge call --timeout 5s readFile '{"path":"README.md"}'

  # Read arguments from stdin
  echo '{"path":"README.md"}' | webbridge call readFile -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			target := fmt.Sprintf("%s/v1/call/%s", serverURL, url.PathEscape(args[0]))
			if timeout > 0 {
				target += "?timeout=" + url.QueryEscape(timeout.String())
			}

			client := &http.Client{Timeout: timeout + 30*time.Second}
			resp, err := post(client, target, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return statusError(resp)
			}
			var callResp httpapi.CallResponse
			if err := json.NewDecoder(resp.Body).Decode(&callResp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(callResp.Data)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "reply timeout (0 uses the server default)")
	return cmd
}

func newNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify <channel> [args-json]",
		Short: "Post a notification to the peer",
		Long: `Post a fire-and-forget envelope through a running "webbridge serve".

Examples:
  webbridge notify webviewDidChangeViewState '{"active":true,"visible":true}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			target := fmt.Sprintf("%s/v1/notify/%s", serverURL, url.PathEscape(args[0]))
			resp, err := post(&http.Client{Timeout: 30 * time.Second}, target, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				return statusError(resp)
			}
			fmt.Fprintf(os.Stderr, "[webbridge] posted %s\n", args[0])
			return nil
		},
	}
}

// readBody returns the JSON arguments given inline, from stdin for "-", or
// nothing.
func readBody(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var raw []byte
	if args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		raw = b
	} else {
		raw = []byte(args[0])
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("arguments are not valid JSON")
	}
	return raw, nil
}

func post(client *http.Client, target string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	return resp, nil
}

// statusError reports a non-success response, preferring the failure
// description when the server sent one.
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	var errResp httpapi.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Description != "" {
		return fmt.Errorf("%s failed: %s", errResp.Channel, errResp.Description)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
