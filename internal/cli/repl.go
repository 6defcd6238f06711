package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var replLang string

var replCmd = &cobra.Command{
	Use:   "repl [session-id]",
	Short: "Open an interactive multi-turn session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID := args[0]

		base, err := url.Parse(serverAddr)
		if err != nil {
			fmt.Printf("invalid --server value: %v\n", err)
			os.Exit(1)
		}
		scheme := "ws"
		if base.Scheme == "https" {
			scheme = "wss"
		}
		u := url.URL{Scheme: scheme, Host: base.Host, Path: "/interact/" + sessionID}
		if replLang != "" {
			u.RawQuery = "lang=" + replLang
		}

		fmt.Printf("connecting to %s...\n", u.String())

		header := http.Header{}
		if apiKey != "" {
			header.Set("x-api-key", apiKey)
		}
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
		if err != nil {
			fmt.Printf("dial failed: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		fmt.Println("connected. enter a line of code per turn, CTRL+C to exit.")

		done := make(chan struct{})
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)

		go func() {
			defer close(done)
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					fmt.Printf("\nconnection closed: %v\n", err)
					return
				}
				var turn struct {
					Stdout string `json:"stdout"`
					Stderr string `json:"stderr"`
					Error  string `json:"error"`
				}
				if err := json.Unmarshal(message, &turn); err != nil {
					fmt.Println(string(message))
					continue
				}
				if turn.Error != "" {
					fmt.Printf("[error] %s\n", turn.Error)
					continue
				}
				fmt.Print(turn.Stdout)
				if turn.Stderr != "" {
					fmt.Fprint(os.Stderr, turn.Stderr)
				}
			}
		}()

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}
				msg, _ := json.Marshal(map[string]string{"code": line})
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					fmt.Printf("\nwrite error: %v\n", err)
					return
				}
			}
		}()

		select {
		case <-done:
			return
		case <-interrupt:
			fmt.Println("interrupt received, closing...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return
			}
			select {
			case <-done:
			case <-time.After(1 * time.Second):
			}
			return
		}
	},
}

func init() {
	replCmd.Flags().StringVarP(&replLang, "lang", "l", "py", "Language to run each turn as")
	RootCmd.AddCommand(replCmd)
}
