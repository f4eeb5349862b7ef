package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/chat"
	"github.com/xhad/docchat/pkg/sse"
	"github.com/xhad/docchat/server"
)

var (
	askServer  string
	askUser    string
	askSession string
	askObjects string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a running server a question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	// A remote client needs no local configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		objects, err := readObjects(askObjects)
		if err != nil {
			return err
		}

		client := &apiClient{base: strings.TrimRight(askServer, "/"), user: askUser}
		sessionID := askSession
		if sessionID == "" {
			if sessionID, err = client.createSession(ctx); err != nil {
				return err
			}
			color.New(color.Faint).Fprintf(cmd.ErrOrStderr(), "session %s\n", sessionID)
		}

		return client.ask(ctx, cmd.OutOrStdout(), map[string]any{
			"sessionId":        sessionID,
			"message":          strings.Join(args, " "),
			"ephemeralObjects": objects,
		})
	},
}

func init() {
	askCmd.Flags().StringVar(&askServer, "server", "http://localhost:8080", "server base URL")
	askCmd.Flags().StringVar(&askSession, "session", "", "session id (a new session is created when empty)")
	askCmd.Flags().StringVar(&askObjects, "objects", "", "JSON file holding an array of context objects")
	userFlag(askCmd, &askUser)
	rootCmd.AddCommand(askCmd)
}

type apiClient struct {
	base string
	user string
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set(server.UserHeader, c.user)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return resp, nil
}

func (c *apiClient) createSession(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/sessions", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Session models.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode session: %w", err)
	}
	return out.Session.ID, nil
}

func (c *apiClient) ask(ctx context.Context, w io.Writer, body map[string]any) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := sse.NewReader(resp.Body)
	var sources []models.ChatSource
	for {
		var e chat.Event
		err := reader.Decode(&e)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(w)
			return errors.New("stream ended before the answer was complete")
		}
		if err != nil {
			return err
		}

		switch e.Type {
		case chat.EventSources:
			sources = e.Sources
		case chat.EventText:
			fmt.Fprint(w, e.Text)
		case chat.EventDone:
			fmt.Fprintln(w)
			printSources(w, sources)
			return nil
		}
	}
}
