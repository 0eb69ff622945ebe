package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmline/lmline/service"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session (REPL)",
	Long: `Start an interactive chat session against the configured backend.
This provides a Read-Eval-Print-Loop (REPL) interface where you can
have a continuous conversation with the model. Replies are streamed
token by token over the chunked-response transport.

Special commands:
/exit, /quit - Exit the chat session
/clear, /reset - Clear conversation context
/system, /S <prompt> - change the system prompt
/help - Show available commands`,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)

		// A quick probe keeps connection problems out of the first prompt.
		service.GetIndicator().Start(service.IndicatorConnecting)
		err := client.Health(cmd.Context())
		service.GetIndicator().Stop()
		if err != nil {
			service.Warnf("backend %s is not answering: %v", client.Endpoint(), err)
		}

		session := &chatSession{cmd: cmd, client: client, system: sysPromptFlag}
		session.startREPL()
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	// In each chat session, generation parameters stay fixed; change them
	// with flags when starting the session.
	chatCmd.Flags().StringVarP(&sysPromptFlag, "system-prompt", "S", "", "System prompt to use for the chat session")
	chatCmd.Flags().IntVar(&maxTokensFlag, "max-tokens", 0, "Cap the number of generated tokens")
	chatCmd.Flags().Float64Var(&tempFlag, "temperature", 0, "Sampling temperature (0 to 2)")
	chatCmd.Flags().Float64Var(&topPFlag, "top-p", 0, "Nucleus sampling probability (0 to 1)")
}

type chatSession struct {
	cmd      *cobra.Command
	client   *service.Client
	system   string
	messages []service.ChatMessage
	quit     bool
}

func (cs *chatSession) startREPL() {
	banner := color.New(color.FgCyan)
	banner.Println("Welcome to lmline Interactive Chat")
	fmt.Println("Type 'exit' or 'quit' to end the session, or '/help' for commands")
	fmt.Println("Use '\\' at the end of a line for multiline input")
	fmt.Println()

	rl, err := readline.New("lmline> ")
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	var inputLines []string
	multilineMode := false

	for {
		prompt := "lmline> "
		if multilineMode {
			prompt = "... "
		}
		rl.SetPrompt(prompt)

		line, err := rl.Readline()
		if err != nil { // Handle EOF or other errors
			if err == readline.ErrInterrupt { // Handle Ctrl+C
				fmt.Println("\nGoodbye!")
				break
			}
			if err == io.EOF { // Handle Ctrl+D
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading line: %v\n", err)
			continue
		}

		line = strings.TrimSpace(line)

		// Check if line ends with '\' for multiline input
		if strings.HasSuffix(line, "\\") {
			multilineMode = true
			inputLines = append(inputLines, strings.TrimSuffix(line, "\\"))
			continue
		}

		// Add the final line and process the input
		inputLines = append(inputLines, line)
		input := strings.Join(inputLines, "\n")
		inputLines = nil // Reset for the next input
		multilineMode = false

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		if input == "" {
			continue
		}

		cs.handleInput(input)
		if cs.quit {
			break
		}
	}
}

func (cs *chatSession) handleInput(input string) {
	if strings.HasPrefix(input, "/") {
		cs.handleCommand(input)
		return
	}

	cs.messages = append(cs.messages, service.ChatMessage{Role: service.RoleUser, Content: input})

	service.GetIndicator().Start(service.IndicatorProcessing)
	reply, err := streamToStdout(cs.cmd.Context(), cs.client, newRequest(cs.cmd, cs.request()))
	service.GetIndicator().Stop()
	if err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		// Keep the reply we did get; the next turn still has context.
	}
	if reply != "" {
		cs.messages = append(cs.messages, service.ChatMessage{Role: service.RoleAssistant, Content: reply})
	}
}

// request prepends the session system prompt to the running conversation.
func (cs *chatSession) request() []service.ChatMessage {
	if cs.system == "" {
		return cs.messages
	}
	msgs := make([]service.ChatMessage, 0, len(cs.messages)+1)
	msgs = append(msgs, service.ChatMessage{Role: service.RoleSystem, Content: cs.system})
	return append(msgs, cs.messages...)
}

func (cs *chatSession) handleCommand(input string) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		fmt.Println("Goodbye!")
		cs.quit = true
	case "/clear", "/reset":
		cs.messages = nil
		fmt.Println("Context cleared")
	case "/system", "/S":
		if len(fields) < 2 {
			fmt.Printf("System prompt: %q\n", cs.system)
			return
		}
		cs.system = strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
		fmt.Println("System prompt updated")
	case "/help":
		cs.showHelp()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n", fields[0])
	}
}

func (cs *chatSession) showHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  /exit, /quit      Exit the chat session")
	fmt.Println("  /clear, /reset    Clear conversation context")
	fmt.Println("  /system, /S       Show or change the system prompt")
	fmt.Println("  /help             Show this help")
}
