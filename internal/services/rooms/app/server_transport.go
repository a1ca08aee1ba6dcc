package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/platform/telemetry/metrics"
	"github.com/louisbranch/breakpoint/internal/random"
	"github.com/louisbranch/breakpoint/internal/services/directory"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
	"github.com/rs/cors"
	"golang.org/x/net/websocket"
)

const (
	adminKeyHeader = "X-Admin-Key"
	roomCodeLength = 8

	oversizedDrainTimeout = 250 * time.Millisecond
)

// handlerOptions configures the HTTP surface around a hub.
type handlerOptions struct {
	metrics        *metrics.Rooms
	directory      *directory.Registry
	allowedOrigins []string
	adminKey       string
}

// inboundFrame is one websocket frame with its payload type.
type inboundFrame struct {
	data   []byte
	binary bool
}

// frameCodec receives raw frames so binary payloads can be rejected.
var frameCodec = websocket.Codec{
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		frame, ok := v.(*inboundFrame)
		if !ok {
			return fmt.Errorf("unexpected frame target %T", v)
		}
		frame.data = data
		frame.binary = payloadType == websocket.BinaryFrame
		return nil
	},
}

func newHandler(hub *roomHub, opts handlerOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", opts.metrics.Handler())
	mux.HandleFunc("POST /api/rooms", requireOrigin(opts.allowedOrigins, handleCreateRoom))
	if opts.directory != nil {
		mux.HandleFunc("GET /api/rooms", opts.directory.ServeList)
	}

	handshake := originCheck(opts.allowedOrigins)
	mux.HandleFunc("GET /api/rooms/{roomId}/ws", func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := roomIDFromRequest(w, r)
		if !ok {
			return
		}
		websocket.Server{
			Handshake: handshake,
			Handler: func(conn *websocket.Conn) {
				handleWSConn(conn, hub, roomID)
			},
		}.ServeHTTP(w, r)
	})

	if strings.TrimSpace(opts.adminKey) != "" {
		admin := adminHandlers{hub: hub}
		mux.HandleFunc("GET /api/rooms/{roomId}/state", requireAdminKey(opts.adminKey, admin.state))
		mux.HandleFunc("POST /api/rooms/{roomId}/reap", requireAdminKey(opts.adminKey, admin.reap))
		mux.HandleFunc("POST /api/rooms/{roomId}/reload", requireAdminKey(opts.adminKey, admin.reload))
	}

	return cors.New(cors.Options{
		AllowedOrigins: opts.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", adminKeyHeader},
	}).Handler(mux)
}

// originAllowed accepts any origin when allowed is empty or holds "*",
// otherwise only an exact match. A missing origin is refused by a list.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return origin != "" && slices.Contains(allowed, origin)
}

func originCheck(allowed []string) func(*websocket.Config, *http.Request) error {
	return func(config *websocket.Config, r *http.Request) error {
		origin, err := websocket.Origin(config, r)
		if err != nil {
			return err
		}
		config.Origin = origin
		if !originAllowed(allowed, r.Header.Get("Origin")) {
			log.Printf("rooms: websocket origin rejected origin=%q remote=%s", r.Header.Get("Origin"), r.RemoteAddr)
			return errors.New("origin not allowed")
		}
		return nil
	}
}

// requireOrigin refuses requests from origins outside the allow list.
func requireOrigin(allowed []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !originAllowed(allowed, r.Header.Get("Origin")) {
			http.Error(w, "Forbidden origin", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func roomIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomID := r.PathValue("roomId")
	if !domain.ValidRoomID(roomID) {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return "", false
	}
	return roomID, true
}

func handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := random.Code(random.CrockfordAlphabet, roomCodeLength)
	if err != nil {
		log.Printf("rooms: create room code failed err=%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		RoomID string `json:"roomId"`
	}{RoomID: roomID})
}

func handleWSConn(conn *websocket.Conn, hub *roomHub, roomID string) {
	defer hub.track()()
	conn.MaxPayloadBytes = maxFrameBytes

	peer := newWSPeer(conn)
	go peer.writeLoop()
	defer peer.closeAndWait()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}
	session, err := hub.connect(ctx, roomID, peer)
	if err != nil {
		log.Printf("rooms: connect failed room=%q remote=%s err=%v", roomID, peer.remoteAddr(), err)
		writeError(peer, hub.deps.metrics, apperrors.Wrap(apperrors.CodeInternal, err))
		return
	}
	log.Printf("rooms: session opened room=%q session=%q remote=%s", roomID, session.id, peer.remoteAddr())
	defer func() {
		hub.disconnect(ctx, session)
		log.Printf("rooms: session closed room=%q session=%q", roomID, session.id)
	}()

	for {
		var frame inboundFrame
		err := frameCodec.Receive(conn, &frame)
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			discardOversizedFrame(conn)
			writeError(peer, hub.deps.metrics, apperrors.New(apperrors.CodeMessageTooLarge))
			return
		}
		if err != nil {
			return
		}
		if frame.binary {
			writeError(peer, hub.deps.metrics, apperrors.New(apperrors.CodeBinaryNotSupported))
			continue
		}
		switch string(frame.data) {
		case keepalivePing:
			peer.send([]byte(keepalivePong))
			continue
		case keepalivePong:
			continue
		}
		msg, err := decodeMessage(frame.data)
		if err != nil {
			writeError(peer, hub.deps.metrics, err)
			continue
		}
		hub.dispatch(ctx, session, msg)
	}
}

// discardOversizedFrame reads past the rejected payload so closing the
// socket does not reset it before the error frame is delivered.
func discardOversizedFrame(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(oversizedDrainTimeout))
	var frame inboundFrame
	_ = frameCodec.Receive(conn, &frame)
}

type adminHandlers struct {
	hub *roomHub
}

func requireAdminKey(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (a adminHandlers) state(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromRequest(w, r)
	if !ok {
		return
	}
	state, err := a.hub.state(r.Context(), roomID)
	if err != nil {
		log.Printf("rooms: admin state failed room=%q err=%v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a adminHandlers) reap(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromRequest(w, r)
	if !ok {
		return
	}
	err := a.hub.reap(r.Context(), roomID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errRoomOccupied):
		http.Error(w, "room has online members", http.StatusConflict)
	default:
		log.Printf("rooms: admin reap failed room=%q err=%v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a adminHandlers) reload(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromRequest(w, r)
	if !ok {
		return
	}
	if err := a.hub.reload(r.Context(), roomID); err != nil {
		log.Printf("rooms: admin reload failed room=%q err=%v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rooms: write response failed err=%v", err)
	}
}
