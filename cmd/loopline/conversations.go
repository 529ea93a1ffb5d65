package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	loopline "github.com/loopline-social/loopline-go"
	"github.com/spf13/cobra"
)

var (
	conversationsPerPage int
	conversationsPages   int
	conversationsJSON    bool
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.Flags().IntVar(&conversationsPerPage, "per-page", loopline.DefaultPageSize, "conversations per page")
	conversationsCmd.Flags().IntVar(&conversationsPages, "pages", 0, "maximum pages to load (0 = all)")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "output raw JSON")
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	Long:  "Walk the paginated conversation index, most recent first, with unread counts and latest-message previews.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		cache := loopline.NewCache()
		list := loopline.NewConversationList(client, cache, conversationsPerPage)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Pages load strictly one after another; the controller stops
		// issuing requests once the server flags the last page.
		for page := 0; !list.Exhausted(); page++ {
			if conversationsPages > 0 && page >= conversationsPages {
				break
			}
			if err := list.LoadNextPage(ctx); err != nil {
				return fmt.Errorf("failed to load conversations: %w", err)
			}
		}

		summaries := list.Snapshot()

		if conversationsJSON {
			data, err := json.MarshalIndent(summaries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(summaries) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		selfID := client.Session().User.ID
		for _, s := range summaries {
			name := "(unknown)"
			if other := s.Counterpart(selfID); other != nil {
				name = other.DisplayName
				if other.Online {
					name += " •"
				}
			}
			line := fmt.Sprintf("%-24s", name)
			if s.Unread > 0 {
				line += fmt.Sprintf(" [%d unread]", s.Unread)
			}
			if s.Preview != "" {
				line += fmt.Sprintf("  %s: %s", s.PreviewSender, truncate(s.Preview, 60))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
