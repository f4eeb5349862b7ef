package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/chat"
)

var (
	chatUser    string
	chatObjects string
	chatTopK    int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with indexed documents in the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		objects, err := readObjects(chatObjects)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.records.CreateSession(ctx, chatUser)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		userPrompt := color.New(color.FgGreen)
		assistantPrompt := color.New(color.FgCyan)
		color.New(color.FgCyan).Fprintln(out, "\nChat with your documents (type 'exit' to quit)")

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			userPrompt.Fprint(out, "\nYou: ")
			if !scanner.Scan() {
				break
			}
			query := strings.TrimSpace(scanner.Text())
			if strings.ToLower(query) == "exit" {
				break
			}
			if query == "" {
				continue
			}

			turn, err := a.coordinator.Start(ctx, chat.Request{
				UserID:           chatUser,
				SessionID:        session.ID,
				Message:          query,
				EphemeralObjects: objects,
				TopK:             chatTopK,
			})
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "Error: %v\n", err)
				continue
			}

			spinner := getSpinner(cmd.ErrOrStderr(), "🔍 Searching documents...")
			var sources []models.ChatSource
			started := false
			for e := range turn.Events() {
				switch e.Type {
				case chat.EventSources:
					sources = e.Sources
				case chat.EventText:
					if !started {
						spinner.Finish()
						assistantPrompt.Fprint(out, "Assistant: ")
						started = true
					}
					fmt.Fprint(out, e.Text)
				}
			}
			if !started {
				spinner.Finish()
			}
			fmt.Fprintln(out)

			if err := turn.Err(); err != nil {
				color.New(color.FgRed).Fprintf(out, "Error: %v\n", err)
				continue
			}
			printSources(out, sources)
		}
		return scanner.Err()
	},
}

func init() {
	userFlag(chatCmd, &chatUser)
	chatCmd.Flags().StringVar(&chatObjects, "objects", "", "JSON file holding an array of context objects")
	chatCmd.Flags().IntVar(&chatTopK, "top-k", 0, "number of passages to retrieve (0 uses retrieval.top_k)")
	rootCmd.AddCommand(chatCmd)
}

// readObjects loads a JSON array of context objects. An empty path yields none.
func readObjects(path string) ([]json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var objects []json.RawMessage
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("%s must hold a JSON array: %w", path, err)
	}
	return objects, nil
}

func printSources(w io.Writer, sources []models.ChatSource) {
	if len(sources) == 0 {
		return
	}
	faint := color.New(color.Faint)
	faint.Fprintln(w, "Sources:")
	for _, src := range sources {
		loc := src.Filename
		if src.PageNumber != nil {
			loc = fmt.Sprintf("%s p.%d", loc, *src.PageNumber)
		}
		faint.Fprintf(w, "  - %s\n", loc)
	}
}
