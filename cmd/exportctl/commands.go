package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func doRequest(cmd *cobra.Command, method, path string, query url.Values) (map[string]any, error) {
	var out map[string]any
	if err := doRequestInto(cmd, method, path, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func doRequestInto(cmd *cobra.Command, method, path string, query url.Values, v any) error {
	addr, _ := cmd.Flags().GetString("addr")
	user, _ := cmd.Flags().GetString("user")
	admin, _ := cmd.Flags().GetBool("admin")

	u := addr + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if admin {
		req.Header.Set("X-User-Role", "admin")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue depth and health label",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest(cmd, http.MethodGet, "/api/queue/health", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reclaim sweep (stuck reset + expired cleanup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest(cmd, http.MethodPost, "/api/queue/sweep", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List export jobs for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, flag := range []string{"status", "format", "page", "limit", "user_id"} {
				if v, _ := cmd.Flags().GetString(flag); v != "" {
					query.Set(flag, v)
				}
			}

			out, err := doRequest(cmd, http.MethodGet, "/api/export/jobs", query)
			if err != nil {
				return err
			}

			jobs, _ := out["jobs"].([]any)
			fmt.Printf("total=%v page=%v\n", out["total"], out["page"])
			for _, raw := range jobs {
				job, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				fmt.Printf("%s\t%s\t%s\tprio=%v\tretries=%v\n",
					job["id"], job["status"], job["format"], job["priority"], job["retry_count"])
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "Filter by status")
	cmd.Flags().String("format", "", "Filter by format")
	cmd.Flags().String("page", "", "Page (1-based)")
	cmd.Flags().String("limit", "", "Page size")
	cmd.Flags().String("user_id", "", "List another user's jobs (admin)")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search jobs across users by design, format or artifact size (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, flag := range []string{"design_id", "format", "min_size", "max_size", "limit"} {
				if v, _ := cmd.Flags().GetString(flag); v != "" {
					query.Set(flag, v)
				}
			}

			var jobs []map[string]any
			if err := doRequestInto(cmd, http.MethodGet, "/api/queue/jobs", query, &jobs); err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Printf("%s\t%s\t%s\tuser=%v\tsize=%v\n",
					job["id"], job["status"], job["format"], job["user_id"], job["file_size"])
			}
			return nil
		},
	}
	cmd.Flags().String("design_id", "", "Jobs for one design")
	cmd.Flags().String("format", "", "Jobs with one export format")
	cmd.Flags().String("min_size", "", "Minimum artifact size in bytes")
	cmd.Flags().String("max_size", "", "Maximum artifact size in bytes")
	cmd.Flags().String("limit", "", "Result cap")
	return cmd
}
