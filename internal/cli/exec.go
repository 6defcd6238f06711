package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	execLang      string
	execSessionID string
)

var execCmd = &cobra.Command{
	Use:   "exec [code]",
	Short: "Run a code snippet against the server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := map[string]any{
			"code": args[0],
			"lang": execLang,
		}
		if execSessionID != "" {
			payload["session_id"] = execSessionID
		}
		body, _ := json.Marshal(payload)

		req, err := http.NewRequest(http.MethodPost, serverAddr+"/exec", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("failed to build request: %v\n", err)
			os.Exit(1)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("failed to connect: %v\nis the server running at %s?\n", err, serverAddr)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			fmt.Printf("exec failed: %s\n", resp.Status)
			io.Copy(os.Stderr, resp.Body)
			os.Exit(1)
		}

		var result struct {
			SessionID string `json:"session_id"`
			Stdout    string `json:"stdout"`
			Stderr    string `json:"stderr"`
			Files     []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"files"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			fmt.Printf("bad response: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		if len(result.Files) > 0 {
			fmt.Printf("\n📂 generated files (session %s):\n", result.SessionID)
			for _, f := range result.Files {
				fmt.Printf("  - %s (%s)\n", f.Name, f.ID)
			}
		} else {
			fmt.Printf("\nsession: %s\n", result.SessionID)
		}
	},
}

func init() {
	execCmd.Flags().StringVarP(&execLang, "lang", "l", "py", "Language to run the code as")
	execCmd.Flags().StringVarP(&execSessionID, "session-id", "s", "", "Reuse an existing session (carries over Python state and uploaded files)")
	RootCmd.AddCommand(execCmd)
}
