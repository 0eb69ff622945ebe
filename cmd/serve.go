package cmd

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmline/lmline/internal/backend"
	"github.com/lmline/lmline/service"
)

var (
	serveAddr  string
	serveReply string
	serveDelay time.Duration
)

// serveCmd runs the bundled mock backend. Handy for trying the CLI without
// a real inference backend, and for demos.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a mock backend for development",
	Long: `Run a local mock backend that speaks the same wire protocols as the real
inference backend: chunked token streaming on /api/chat/stream, the duplex
websocket protocol on /api/chat/ws, plain completion on /api/chat and a
/health probe. It performs no inference; it streams a canned reply.`,
	Run: func(cmd *cobra.Command, args []string) {
		srv := backend.New()
		srv.Reply = serveReply
		srv.Delay = serveDelay

		service.Infof("mock backend listening on %s", serveAddr)
		if err := http.ListenAndServe(serveAddr, srv.Handler()); err != nil {
			service.Errorf("mock backend stopped: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:8000", "Address to listen on")
	serveCmd.Flags().StringVar(&serveReply, "reply", "", "Canned reply text (default echoes the prompt)")
	serveCmd.Flags().DurationVar(&serveDelay, "delay", 30*time.Millisecond, "Pause between tokens")
}
