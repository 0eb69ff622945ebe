// Package backend is a mock inference backend speaking the same wire
// protocols as the real one: SSE token lines on /api/chat/stream, the
// type-discriminated websocket protocol on /api/chat/ws, and plain JSON on
// /api/chat. It exists for development (`lmline serve`) and for tests; it
// performs no inference, it just tokenizes a canned reply.
package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmline/lmline/service"
)

const defaultModel = "mock-model"

type Server struct {
	// Reply overrides the generated echo reply when non-empty.
	Reply string
	// Delay is the pause between tokens, to make streaming visible.
	Delay time.Duration
	// Model is reported in stream chunks and chat responses.
	Model string

	upgrader websocket.Upgrader
}

func New() *Server {
	return &Server{
		Model: defaultModel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the backend's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/stream", s.handleStream)
	mux.HandleFunc("/api/chat/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	reply := s.replyFor(req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(service.ChatResponse{
		Message: reply,
		Model:   s.Model,
		Usage: map[string]int{
			"prompt_tokens":     promptTokens(req),
			"completion_tokens": len(strings.Fields(reply)),
		},
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for _, token := range tokenize(s.replyFor(req)) {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		chunk, _ := json.Marshal(map[string]string{"token": token, "model": s.Model})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		service.Warnf("backend: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg service.ChannelMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				service.Debugf("backend: websocket read: %v", err)
			}
			return
		}
		if msg.Type != service.MessageChat {
			// Ignore anything that is not a chat request, like the real
			// backend does.
			continue
		}
		if len(msg.Messages) == 0 {
			conn.WriteJSON(service.ChannelMessage{Type: service.MessageError, Error: "chat message carried no messages"})
			continue
		}

		reply := s.replyFor(service.ChatRequest{Messages: msg.Messages})
		for _, token := range tokenize(reply) {
			if err := conn.WriteJSON(service.ChannelMessage{Type: service.MessageToken, Token: token}); err != nil {
				return
			}
			if s.Delay > 0 {
				time.Sleep(s.Delay)
			}
		}
		if err := conn.WriteJSON(service.ChannelMessage{Type: service.MessageComplete}); err != nil {
			return
		}
	}
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (service.ChatRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return service.ChatRequest{}, false
	}
	var req service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return service.ChatRequest{}, false
	}
	if len(req.Messages) == 0 {
		http.Error(w, "no messages", http.StatusBadRequest)
		return service.ChatRequest{}, false
	}
	return req, true
}

func (s *Server) replyFor(req service.ChatRequest) string {
	if s.Reply != "" {
		return s.Reply
	}
	last := req.Messages[len(req.Messages)-1]
	return fmt.Sprintf("You said: %s. This is a mock reply from %s.", last.Content, s.Model)
}

// tokenize splits a reply into word tokens, keeping the separating spaces
// so that concatenating the tokens reproduces the reply.
func tokenize(reply string) []string {
	words := strings.Split(reply, " ")
	tokens := make([]string, 0, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func promptTokens(req service.ChatRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}
