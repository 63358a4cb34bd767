package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"

	"github.com/gorilla/websocket"
)

// WSHandler streams a student's quest progress over a websocket. The client
// receives a fresh progress report on connect and after every relevant event.
type WSHandler struct {
	quests   *app.QuestService
	hub      *app.ProgressHub
	upgrader websocket.Upgrader
}

func NewWSHandler(quests *app.QuestService, hub *app.ProgressHub) *WSHandler {
	return &WSHandler{
		quests: quests,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// ServeWS upgrades the request and subscribes the connection to the student's events.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		http.Error(w, "missing studentId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	report, err := h.quests.Progress(ctx, studentID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	events, cancel := h.hub.Subscribe(studentID, report.TeacherID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				for _, msg := range h.eventMessages(ctx, studentID, event) {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "progress", Payload: report}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "refresh":
			send <- h.progressMessage(ctx, studentID)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// eventMessages forwards the event and follows it with recomputed progress.
func (h *WSHandler) eventMessages(ctx context.Context, studentID string, event domain.Event) []outboundMessage[any] {
	return []outboundMessage[any]{
		{Type: "event", Payload: event},
		h.progressMessage(ctx, studentID),
	}
}

func (h *WSHandler) progressMessage(ctx context.Context, studentID string) outboundMessage[any] {
	report, err := h.quests.Progress(ctx, studentID)
	if err != nil {
		return errorMessage(err)
	}
	return outboundMessage[any]{Type: "progress", Payload: report}
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: domain.Kind(err)}}
}
