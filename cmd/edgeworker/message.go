package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/proxy"
)

func newMessageCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		payload    string
	)

	cmd := &cobra.Command{
		Use:   "message <type>",
		Short: "Post a control message (e.g. SKIP_WAITING) to a running proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				addr = baseURL(cfg.Listen)
			}

			msg := models.Message{Type: args[0]}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload is not valid JSON")
				}
				msg.Payload = json.RawMessage(payload)
			}
			body, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Post(strings.TrimSuffix(addr, "/")+proxy.MessagePath, "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("post message: %w", err)
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("post message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
			}
			fmt.Printf("Delivered %s.\n", msg.Type)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "edgeworker.yaml", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "proxy base URL (default derived from listen)")
	cmd.Flags().StringVar(&payload, "payload", "", "message payload as JSON")
	return cmd
}

// baseURL turns a listen address like ":8080" into a dialable URL.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}
