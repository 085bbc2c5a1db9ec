package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pawrelay/internal/config"
	"pawrelay/internal/status"
)

func newHistoryCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the ids a running daemon has relayed, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hr, err := fetchHistory(cmd, addr, timeout)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(hr)
			}
			for _, id := range hr.IDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultStatusAddr, "status API address (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func historyURL(addr string) string {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + "/v1/history"
}

func fetchHistory(cmd *cobra.Command, addr string, timeout time.Duration) (status.HistoryResponse, error) {
	var out status.HistoryResponse
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, historyURL(addr), nil)
	if err != nil {
		return out, err
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return out, fmt.Errorf("query status api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("query status api: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode history: %w", err)
	}
	return out, nil
}
