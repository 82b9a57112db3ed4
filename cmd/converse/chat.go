package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// chatCMD is a small REPL against a running server, mostly for manual
// testing of pipeline behavior.
func chatCMD() *cobra.Command {
	var serverURL string
	var convID string
	var token string

	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if convID == "" {
				convID = uuid.NewString()
			}
			fmt.Printf("conversation %s (ctrl-d to exit)\n", convID)
			sc := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !sc.Scan() {
					return sc.Err()
				}
				text := strings.TrimSpace(sc.Text())
				if text == "" {
					continue
				}
				body, _ := json.Marshal(map[string]string{"conversation_id": convID, "text": text})
				req, err := http.NewRequest(http.MethodPost, serverURL+"/api/turns", bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")
				if token != "" {
					req.Header.Set("Authorization", "Bearer "+token)
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				var out struct {
					FinalText string `json:"final_text"`
					State     string `json:"state"`
					Error     string `json:"error"`
				}
				err = json.NewDecoder(resp.Body).Decode(&out)
				resp.Body.Close()
				if err != nil {
					return err
				}
				if out.Error != "" {
					fmt.Printf("error: %s\n", out.Error)
					continue
				}
				fmt.Printf("[%s] %s\n", out.State, out.FinalText)
			}
		},
	}
	chat.Flags().StringVar(&serverURL, "server", "http://localhost:10010", "server base URL")
	chat.Flags().StringVar(&convID, "conversation", "", "conversation id (random when empty)")
	chat.Flags().StringVar(&token, "token", "", "bearer token")

	return chat
}
