package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmline/lmline/data"
	"github.com/lmline/lmline/service"
)

// channelCmd chats over the persistent duplex connection instead of issuing
// one request per turn.
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Chat over a persistent duplex connection",
	Long: `Open one persistent bidirectional connection to the backend and hold a
conversation over it. Unlike 'lmline chat', which issues a fresh streaming
request per turn, every turn travels over the same socket.

The connection is not retried: when it drops, the session ends.`,
	Run: func(cmd *cobra.Command, args []string) {
		endpoint := data.NewConfigStore().Endpoint()
		if cmd.Flags().Changed("endpoint") {
			endpoint = endpointFlag
		}

		service.GetIndicator().Start(service.IndicatorConnecting)
		ch, err := service.DialChannel(cmd.Context(), endpoint)
		service.GetIndicator().Stop()
		if err != nil {
			service.Errorf("%v", err)
			return
		}
		defer ch.Close()

		session := &channelSession{channel: ch, system: sysPromptFlag}
		session.startREPL()
	},
}

func init() {
	rootCmd.AddCommand(channelCmd)

	channelCmd.Flags().StringVarP(&sysPromptFlag, "system-prompt", "S", "", "System prompt to use for the session")
}

type channelSession struct {
	channel  *service.Channel
	system   string
	messages []service.ChatMessage
}

func (s *channelSession) startREPL() {
	banner := color.New(color.FgCyan)
	banner.Println("Welcome to lmline Channel Chat")
	fmt.Println("Type 'exit' or 'quit' to end the session")
	fmt.Println()

	rl, err := readline.New("lmline> ")
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading line: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		if !s.runTurn(input) {
			color.New(color.FgRed).Printf("Connection %s, session over\n", s.channel.State())
			return
		}
	}
}

// runTurn sends one request and consumes events until the turn completes.
// It reports false once the connection is no longer usable.
func (s *channelSession) runTurn(input string) bool {
	s.messages = append(s.messages, service.ChatMessage{Role: service.RoleUser, Content: input})

	req := service.ChatRequest{Messages: s.request()}
	if err := s.channel.Send(req); err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		return s.channel.State() == service.StateOpen
	}

	var sb strings.Builder
	for {
		ev, ok := <-s.channel.Events()
		if !ok {
			// Read loop ended: connection closed or failed.
			return false
		}
		switch ev.Type {
		case service.EventToken:
			fmt.Print(ev.Token)
			sb.WriteString(ev.Token)
		case service.EventDone:
			fmt.Println()
			if sb.Len() > 0 {
				s.messages = append(s.messages, service.ChatMessage{Role: service.RoleAssistant, Content: sb.String()})
			}
			return true
		case service.EventStreamError:
			fmt.Println()
			color.New(color.FgRed).Printf("Error: %v\n", ev.Err)
			// A server-reported error leaves the connection open; a
			// transport failure does not.
			return s.channel.State() == service.StateOpen
		}
	}
}

func (s *channelSession) request() []service.ChatMessage {
	if s.system == "" {
		return s.messages
	}
	msgs := make([]service.ChatMessage, 0, len(s.messages)+1)
	msgs = append(msgs, service.ChatMessage{Role: service.RoleSystem, Content: s.system})
	return append(msgs, s.messages...)
}
