package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	loopline "github.com/loopline-social/loopline-go"
	"github.com/spf13/cobra"
)

var watchBadge bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchBadge, "badge", false, "print the total unread count after each update")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the notification stream",
	Long: "Connect to the session-wide notification channel, raise a desktop alert for\n" +
		"each new message, and keep unread counts fresh. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		selfID := client.Session().User.ID

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cache := loopline.NewCache()
		list := loopline.NewConversationList(client, cache, loopline.DefaultPageSize)

		seedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := list.Refresh(seedCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}
		if watchBadge {
			list.OnUpdate = func() {
				fmt.Printf("· %d unread\n", cache.TotalUnread(selfID))
			}
		}

		notifier := loopline.NewNotifier(cache, loopline.WithNotifierLogger(newLogger()))

		ch := client.Channel(loopline.NotificationTarget(), nil)
		notifier.Bind(ch)
		ch.OnNotification(func(ev loopline.NotificationEvent) {
			fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04"), ev.Sender, ev.Body)
		})
		ch.OnMarkedRead(func(ev loopline.MarkedReadEvent) {
			// The authoritative read-set lives server-side; refetch rather
			// than adjust counts locally.
			refetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := list.Refresh(refetchCtx); err != nil {
				fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			}
		})

		ch.Connect(ctx)
		defer ch.Close()

		go list.Run(ctx)

		fmt.Println("Watching for messages. Ctrl-C to stop.")
		<-ctx.Done()
		return nil
	},
}
