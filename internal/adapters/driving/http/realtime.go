package http

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// realtimeDoctypes may be streamed to clients. Accounts carry credentials
// and are never streamed.
var realtimeDoctypes = []string{
	domain.DoctypeJobs,
	domain.DoctypeTriggers,
	domain.DoctypeKonnectors,
	domain.DoctypeKonnectorResults,
}

func parseRealtimeDoctypes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return realtimeDoctypes, nil
	}
	var out []string
	for _, d := range requested {
		if !slices.Contains(realtimeDoctypes, d) {
			return nil, fmt.Errorf("doctype %q cannot be streamed", d)
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// handleRealtime godoc
// @Summary      Realtime document stream
// @Description  Upgrades to a websocket streaming job, trigger, konnector and result changes.
// @Description  Browsers pass the bearer token in the token query parameter.
// @Tags         Realtime
// @Security     BearerAuth
// @Param        doctype  query     []string  false  "Doctypes to stream (default: all streamable)"  collectionFormat(multi)
// @Param        token    query     string    false  "Bearer token for clients that cannot set headers"
// @Success      101      {object}  domain.DocumentEvent
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /realtime [get]
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	doctypes, err := parseRealtimeDoctypes(r.URL.Query()["doctype"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan domain.DocumentEvent, 64)
	for _, doctype := range doctypes {
		ch, err := s.events.Subscribe(ctx, doctype)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		go forwardEvents(ctx, ch, events)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.metrics.RealtimeConnected(1)
	defer s.metrics.RealtimeConnected(-1)
	logger := s.logger.With("remote", r.RemoteAddr)
	if authCtx := GetAuthContext(r.Context()); authCtx != nil {
		logger = logger.With("subject", authCtx.Subject)
	}
	logger.Info("realtime client connected", "doctypes", doctypes)

	// Clients only send control frames; reading keeps pongs flowing and
	// notices disconnections.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			logger.Info("realtime client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("realtime write failed", "error", err)
				return
			}
		}
	}
}

func forwardEvents(ctx context.Context, in <-chan domain.DocumentEvent, out chan<- domain.DocumentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
