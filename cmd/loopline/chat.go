package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	loopline "github.com/loopline-social/loopline-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open a conversation with a user",
	Long: "Start (or resume) a direct conversation with the given user, print the message\n" +
		"backlog, then stream live messages. Typed lines are sent as messages; Ctrl-C leaves.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		client := getClient()
		self := client.Session().User

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// Starting a conversation is idempotent: an existing one with this
		// counterpart comes back unchanged.
		startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		conv, err := client.Conversations().Start(startCtx, userID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to start conversation: %w", err)
		}

		// One backlog fetch per view activation, before the channel is
		// relied on for rendering.
		detailCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		detail, err := client.Conversations().Detail(detailCtx, conv.ID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}

		other := detail.Counterpart(self.ID)
		otherName := userID
		if other != nil {
			otherName = other.DisplayName
		}

		timeline := loopline.NewTimeline()
		timeline.Seed(detail.Messages)
		for _, e := range timeline.Entries() {
			printMessage(e.Message, self.ID)
		}

		typing := loopline.NewTypingTracker(self.DisplayName, 0)
		typing.OnChange = func(name string) {
			if name != "" {
				fmt.Printf("· %s is typing…\n", name)
			}
		}
		defer typing.Stop()

		ch := client.Channel(loopline.ConversationTarget(conv.ID), nil)
		ch.OnMessage(func(m loopline.Message) {
			timeline.Append(m)
			if m.Sender.ID != self.ID {
				printMessage(m, self.ID)
			}
		})
		ch.OnTyping(typing.Observe)

		readSync := loopline.NewReadSync(ch)
		ch.OnStateChange(func(s loopline.ChannelState) {
			switch s {
			case loopline.StateOpen:
				fmt.Println("· connected")
				// The view stays visible for as long as this command runs,
				// so every (re)open marks the backlog read. Firing this
				// before the channel opens would drop the frame.
				readSync.ActivateView()
			case loopline.StateConnecting:
				fmt.Println("· reconnecting…")
			}
		})

		ch.Connect(ctx)
		defer ch.Close()

		fmt.Printf("Chatting with %s. Type a message and press enter.\n", otherName)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nLeaving conversation.")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if line == "" {
					continue
				}
				// The sender side does no smoothing: one pulse per input
				// event, the receiving tracker throttles.
				ch.SendTyping(self.DisplayName)

				recipient := loopline.UserSummary{}
				if other != nil {
					recipient = *other
				}
				msg := timeline.AppendLocal(conv.ID, line, self, recipient)
				ch.SendMessage(msg)

				// The terminal sits at the bottom of the list by definition.
				readSync.Scrolled(0)
			}
		}
	},
}

func printMessage(m loopline.Message, selfID string) {
	who := m.Sender.DisplayName
	if m.Sender.ID == selfID {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Body)
}
