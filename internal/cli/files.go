package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "fs",
	Short: "Manage files attached to a session",
}

var lsCmd = &cobra.Command{
	Use:   "ls [session-id]",
	Short: "List files stored against a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID := args[0]

		req, _ := http.NewRequest(http.MethodGet, serverAddr+"/files/"+sessionID, nil)
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Printf("error: %s\n", resp.Status)
			io.Copy(os.Stderr, resp.Body)
			os.Exit(1)
		}

		var files []struct {
			FileID      string `json:"fileId"`
			Filename    string `json:"filename"`
			Size        int64  `json:"size"`
			ContentType string `json:"content_type"`
		}
		json.NewDecoder(resp.Body).Decode(&files)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "FILE ID\tNAME\tSIZE\tTYPE")
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.FileID, f.Filename, f.Size, f.ContentType)
		}
		w.Flush()
	},
}

var putCmd = &cobra.Command{
	Use:   "put [local-path] [session-id]",
	Short: "Upload a local file, attaching it to a session (a new one if omitted)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		localPath := args[0]
		var sessionID string
		if len(args) == 2 {
			sessionID = args[1]
		}

		file, err := os.Open(localPath)
		if err != nil {
			fmt.Printf("failed to open local file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()

		r, w := io.Pipe()
		m := multipart.NewWriter(w)

		go func() {
			defer w.Close()
			defer m.Close()
			if sessionID != "" {
				m.WriteField("session_id", sessionID)
			}
			part, err := m.CreateFormFile("file", filepath.Base(localPath))
			if err != nil {
				return
			}
			io.Copy(part, file)
		}()

		req, _ := http.NewRequest(http.MethodPost, serverAddr+"/upload", r)
		req.Header.Set("Content-Type", m.FormDataContentType())
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("upload failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Printf("error: %s\n", resp.Status)
			io.Copy(os.Stderr, resp.Body)
			os.Exit(1)
		}

		var result struct {
			SessionID string `json:"session_id"`
			Files     []struct {
				FileID   string `json:"fileId"`
				Filename string `json:"filename"`
			} `json:"files"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		for _, f := range result.Files {
			fmt.Printf("uploaded %s -> session %s, file %s\n", f.Filename, result.SessionID, f.FileID)
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get [session-id] [file-id]",
	Short: "Download a file's content to stdout",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, fileID := args[0], args[1]

		req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/download/%s/%s", serverAddr, sessionID, fileID), nil)
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Printf("error: %s\n", resp.Status)
			io.Copy(os.Stderr, resp.Body)
			os.Exit(1)
		}

		io.Copy(os.Stdout, resp.Body)
	},
}

func init() {
	filesCmd.AddCommand(lsCmd)
	filesCmd.AddCommand(putCmd)
	filesCmd.AddCommand(getCmd)
	RootCmd.AddCommand(filesCmd)
}
