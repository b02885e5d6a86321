package httpapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"streamd/internal/events"
	"streamd/pkg/types"
)

// wsRequest is one client frame on /ws: a prompt, or a stop request.
type wsRequest struct {
	Prompt string `json:"prompt,omitempty"`
	Stop   bool   `json:"stop,omitempty"`
}

const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     wsCheckOrigin,
}

// wsCheckOrigin accepts same-origin requests, and any configured CORS origin.
func wsCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if corsEnabled && (slices.Contains(corsAllowedOrigins, "*") || slices.Contains(corsAllowedOrigins, origin)) {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

// handleWebSocket runs prompts received as JSON text frames one at a time,
// writing each StreamEvent back as its own frame. {"stop":true} cancels the
// running generation; closing the socket cancels it too.
//
// @Summary  Interactive generation over WebSocket
// @Router   /ws [get]
func handleWebSocket(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			return
		}
		defer conn.Close()
		rid := middleware.GetReqID(r.Context())

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		prompts := make(chan string, 8)
		go func() {
			defer cancel()
			defer close(prompts)
			for {
				var req wsRequest
				if err := conn.ReadJSON(&req); err != nil {
					return
				}
				if req.Stop {
					svc.Stop()
					continue
				}
				if strings.TrimSpace(req.Prompt) == "" {
					continue
				}
				select {
				case prompts <- req.Prompt:
				case <-ctx.Done():
					return
				}
			}
		}()

		send := func(v any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(v) == nil
		}
		for prompt := range prompts {
			var writeFailed bool
			em := events.Func(func(e types.StreamEvent) {
				if !writeFailed && !send(e) {
					writeFailed = true
					cancel()
				}
			})
			_, err := svc.Generate(ctx, prompt, em)
			if writeFailed || ctx.Err() != nil {
				return
			}
			if err != nil {
				zlog.Debug().Str("request_id", rid).Err(err).Msg("ws generate")
				if !send(types.ErrorResponse{Error: err.Error(), Code: statusFor(err)}) {
					return
				}
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
}
