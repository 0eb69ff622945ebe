// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lmline/lmline/data"
	"github.com/lmline/lmline/service"
)

var (
	versionFlag bool // To hold the version flag value

	cfgFile           string // To hold the path to the config file if specified via flag
	appConfigDir      string // Store the calculated config directory path
	appConfigFilePath string // Store the calculated config file path
	debugMode         bool   // Flag to enable debug logging

	// Global logger instance, configured by setupLogging
	logger = service.GetLogger()

	endpointFlag  string  // lmline "What is Go?" --endpoint(-e) http://host:8000
	sysPromptFlag string  // lmline "Act as shell" --system-prompt(-S) "You are..."
	maxTokensFlag int     // lmline --max-tokens 256 "..."
	tempFlag      float64 // lmline --temperature 0.7 "..."
	topPFlag      float64 // lmline --top-p 0.9 "..."

	// Global cmd instance, to be used by subcommands
	rootCmd = &cobra.Command{
		Use:   "lmline [prompt]",
		Short: "A CLI tool to stream chat completions from a self-hosted LLM backend",
		Long: `lmline is a command-line front end for a self-hosted LLM inference backend.
It streams tokens as they are generated, over a one-shot chunked response
or a persistent duplex channel. Configure the backend endpoint once, then
ask away.`,
		// Accept arbitrary arguments as prompts
		Args: cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			service.Debugf("Start processing...")

			// If no arguments and no relevant flags are set, show help instead
			if len(args) == 0 && !versionFlag && !hasStdinData() {
				cmd.Help()
				return
			}

			// print version
			if len(args) == 0 && versionFlag {
				fmt.Printf("%s %s\n", cmd.CommandPath(), version)
				return
			}

			prompt := ""
			if len(args) > 0 {
				// Unquoted words are all part of the prompt:
				// `lmline tell me a joke` asks for a joke.
				prompt = promptFromArgs(args)
			} else {
				// Read from stdin if no prompt is provided
				prompt = readStdin()
			}
			if strings.TrimSpace(prompt) == "" {
				cmd.Help()
				return
			}

			// Stdin can also feed extra context below an explicit prompt
			if len(args) > 0 && hasStdinData() {
				if extra := readStdin(); extra != "" {
					prompt = prompt + "\n\n" + extra
				}
			}

			runPrompt(cmd, prompt)
		},
	}
)

// promptFromArgs joins the positional arguments back into one prompt.
func promptFromArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// runPrompt streams one completion for a single prompt to stdout.
func runPrompt(cmd *cobra.Command, prompt string) {
	client := newClient(cmd)

	messages := []service.ChatMessage{}
	if sysPromptFlag != "" {
		messages = append(messages, service.ChatMessage{Role: service.RoleSystem, Content: sysPromptFlag})
	}
	messages = append(messages, service.ChatMessage{Role: service.RoleUser, Content: prompt})

	service.GetIndicator().Start(service.IndicatorProcessing)
	_, err := streamToStdout(cmd.Context(), client, newRequest(cmd, messages))
	service.GetIndicator().Stop()
	if err != nil {
		service.Errorf("%v", err)
		os.Exit(1)
	}
}

// streamToStdout prints token events as they arrive and returns the
// assembled reply. The indicator is stopped on the first event so spinner
// output never interleaves with tokens.
func streamToStdout(ctx context.Context, client *service.Client, req service.ChatRequest) (string, error) {
	events, err := client.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for ev := range events {
		service.GetIndicator().Stop()
		switch ev.Type {
		case service.EventToken:
			fmt.Print(ev.Token)
			sb.WriteString(ev.Token)
		case service.EventParseError:
			// Already logged by the service layer; keep streaming.
		case service.EventStreamError:
			fmt.Println()
			return sb.String(), ev.Err
		case service.EventDone:
			if ev.Implicit {
				service.Debugf("stream ended without an explicit terminator")
			}
		}
	}
	fmt.Println()
	return sb.String(), nil
}

// newClient builds a client for the effective endpoint: flag first, then
// config file, then the default.
func newClient(cmd *cobra.Command) *service.Client {
	endpoint := data.NewConfigStore().Endpoint()
	if cmd.Flags().Changed("endpoint") {
		endpoint = endpointFlag
	}
	return service.NewClient(endpoint)
}

// newRequest merges generation parameters: flags override config defaults.
func newRequest(cmd *cobra.Command, messages []service.ChatMessage) service.ChatRequest {
	store := data.NewConfigStore()
	req := service.ChatRequest{
		Messages:    messages,
		MaxTokens:   store.MaxTokens(),
		Temperature: store.Temperature(),
		TopP:        store.TopP(),
	}
	if cmd.Flags().Changed("max-tokens") {
		req.MaxTokens = maxTokensFlag
	}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = tempFlag
	}
	if cmd.Flags().Changed("top-p") {
		req.TopP = topPFlag
	}
	return req
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Ensure the config directory exists before Cobra/Viper try to read from it
	if appConfigDir != "" {
		if err := os.MkdirAll(appConfigDir, 0750); err != nil {
			service.Errorf("Error creating config directory '%s': %v", appConfigDir, err)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		service.Errorf("'%s'", err)
		os.Exit(1)
	}
}

func init() {
	// Calculate config paths early
	initConfigPaths()

	// Initialize Viper configuration
	cobra.OnInitialize(initConfig)

	// Define persistent flags (available to this command and all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ~/.config/lmline/lmline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Enable debug logging (overrides config file level)")
	rootCmd.PersistentFlags().StringVarP(&endpointFlag, "endpoint", "e", data.DefaultEndpoint, "Backend endpoint to talk to")

	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Define the flags
	rootCmd.Flags().StringVarP(&sysPromptFlag, "system-prompt", "S", "", "Specify a system prompt")
	rootCmd.Flags().IntVar(&maxTokensFlag, "max-tokens", 0, "Cap the number of generated tokens")
	rootCmd.Flags().Float64Var(&tempFlag, "temperature", 0, "Sampling temperature (0 to 2)")
	rootCmd.Flags().Float64Var(&topPFlag, "top-p", 0, "Nucleus sampling probability (0 to 1)")
	rootCmd.Flags().BoolVarP(&versionFlag, "version", "v", false, "Print the version number of lmline")

	// Set logrus defaults before configuration is loaded
	// This ensures basic logging works even if config fails
	service.InitLogger()
}

// initConfigPaths calculates the application's configuration directory and file path.
func initConfigPaths() {
	var err error
	// Prefer os.UserConfigDir()
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to home directory if UserConfigDir fails
		service.Warnf("Warning: Could not find user config dir, falling back to home directory.%v", err)
		userConfigDir, err = homedir.Dir()
		cobra.CheckErr(err) // If home dir also fails, panic
	}

	// App specific directory: e.g., ~/.config/lmline
	appConfigDir = filepath.Join(userConfigDir, "lmline")

	// Default config file path: e.g., ~/.config/lmline/lmline.yaml
	appConfigFilePath = filepath.Join(appConfigDir, "lmline.yaml")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(appConfigDir)
		viper.SetConfigName("lmline")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv() // Read in environment variables that match

	// Set defaults in Viper *before* reading the config so these keys exist
	// even if not in the file
	viper.SetDefault(data.KeyLogLevel, "info")
	viper.SetDefault(data.KeyEndpoint, data.DefaultEndpoint)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			service.Debugf("Config file not found in %s or via --config flag. Using defaults/env vars.", appConfigDir)
		} else if os.IsNotExist(err) {
			service.Debugf("Config file path %s does not exist. Using defaults/env vars.", viper.ConfigFileUsed())
		} else {
			service.Errorf("Error reading config file (%s): %v", viper.ConfigFileUsed(), err)
		}
	}

	setupLogging()
}

// setupLogging configures the global logger based on Viper settings and flags.
func setupLogging() {
	logLevelStr := viper.GetString(data.KeyLogLevel)

	// Flag overrides config
	level := log.InfoLevel // Default
	if debugMode {
		level = log.DebugLevel
		logLevelStr = "debug"
	} else {
		var err error
		level, err = log.ParseLevel(logLevelStr)
		if err != nil {
			service.Warnf("Invalid log level '%s' in config, using 'info': %v", logLevelStr, err)
			level = log.InfoLevel
			logLevelStr = "info (due to invalid config value)"
		}
	}
	logger.SetLevel(level)

	service.Debugf("Logger initialized: level=%s ", logLevelStr)
}

// Helper function to get the calculated default config file path
// Useful for the 'config path' command.
func getDefaultConfigFilePath() string {
	if appConfigFilePath == "" {
		initConfigPaths()
	}
	return appConfigFilePath
}
