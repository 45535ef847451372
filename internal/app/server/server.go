// Package server hosts the planning poker HTTP/WebSocket process.
//
// The transport stays thin: it decodes frames, hands them to the coordinator,
// and writes coordinator broadcasts back out. All session semantics live
// below it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	platformerrors "github.com/ybrake1950/planning-poker/internal/platform/errors"
	platformgrpc "github.com/ybrake1950/planning-poker/internal/platform/grpc"
	"github.com/ybrake1950/planning-poker/internal/platform/timeouts"
	"github.com/ybrake1950/planning-poker/internal/poker/broadcast"
	"github.com/ybrake1950/planning-poker/internal/poker/registry"
	"github.com/ybrake1950/planning-poker/internal/poker/service"
	"github.com/ybrake1950/planning-poker/internal/poker/storage"
	"github.com/ybrake1950/planning-poker/internal/poker/storage/memory"
	"github.com/ybrake1950/planning-poker/internal/poker/storage/sqlite"
)

const (
	// StorageMemory keeps sessions in process memory.
	StorageMemory = "memory"
	// StorageSQLite persists sessions to a SQLite database file.
	StorageSQLite = "sqlite"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the poker transport boundary.
type Config struct {
	HTTPAddr          string
	HealthAddr        string
	StorageDriver     string
	SQLitePath        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	SessionIdle       time.Duration
	EmptyGrace        time.Duration
}

// Server hosts the poker HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	healthAddr      string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	coordinator     *service.Coordinator
	peers           *peerTable
	store           io.Closer
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode,omitempty"`
	PlayerName  string `json:"playerName"`
	IsSpectator bool   `json:"isSpectator,omitempty"`
}

type joinedPayload struct {
	SessionCode string `json:"sessionCode"`
	PlayerName  string `json:"playerName"`
	IsSpectator bool   `json:"isSpectator"`
	ServerTime  string `json:"serverTime"`
}

type votePayload struct {
	Vote int `json:"vote"`
}

type leftPayload struct {
	SessionCode string `json:"sessionCode"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// peerTable maps connection ids to their write side. It is the broadcast
// sender: coordinator fan-out lands here and is encoded onto the socket.
type peerTable struct {
	mu    sync.Mutex
	peers map[string]*wsPeer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*wsPeer)}
}

func (t *peerTable) register(connID string, peer *wsPeer) {
	t.mu.Lock()
	t.peers[connID] = peer
	t.mu.Unlock()
}

func (t *peerTable) drop(connID string) {
	t.mu.Lock()
	delete(t.peers, connID)
	t.mu.Unlock()
}

func (t *peerTable) lookup(connID string) (*wsPeer, bool) {
	t.mu.Lock()
	peer, ok := t.peers[connID]
	t.mu.Unlock()
	return peer, ok
}

// Send implements broadcast.Sender.
func (t *peerTable) Send(connID string, message broadcast.Message) error {
	peer, ok := t.lookup(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	return peer.writeFrame(wsFrame{
		Type:    message.Type,
		Payload: mustJSON(message.Payload),
	})
}

// NewServer builds a configured poker server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var sessionStore storage.SessionStore
	var closer io.Closer
	switch strings.TrimSpace(config.StorageDriver) {
	case "", StorageMemory:
		sessionStore = memory.NewStore()
	case StorageSQLite:
		store, err := sqlite.Open(config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		sessionStore = store
		closer = store
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.StorageDriver)
	}

	peers := newPeerTable()
	coordinator, err := service.New(service.Config{
		Store:       sessionStore,
		Registry:    registry.New(),
		Sender:      peers,
		IdleTimeout: config.SessionIdle,
		EmptyGrace:  config.EmptyGrace,
	})
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(coordinator, peers),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		healthAddr:      strings.TrimSpace(config.HealthAddr),
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		coordinator:     coordinator,
		peers:           peers,
		store:           closer,
	}, nil
}

// Run creates and serves a poker server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init poker server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve poker: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, and the gRPC health listener when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("poker server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if s.healthAddr != "" {
		go func() {
			logf := func(format string, args ...any) {
				log.Printf("health %s", fmt.Sprintf(format, args...))
			}
			if err := platformgrpc.ServeHealth(ctx, s.healthAddr, logf); err != nil {
				log.Printf("health listener stopped: %v", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	log.Printf("poker server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.coordinator != nil {
		s.coordinator.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close session store: %v", err)
		}
	}
}

// NewHandler creates poker routes backed by an in-memory store, for tests
// and offline paths.
func NewHandler() http.Handler {
	peers := newPeerTable()
	coordinator, err := service.New(service.Config{
		Store:    memory.NewStore(),
		Registry: registry.New(),
		Sender:   peers,
	})
	if err != nil {
		panic(fmt.Sprintf("init coordinator: %v", err))
	}
	return newHandler(coordinator, peers)
}

// newHandler creates poker routes over the given coordinator and peer table.
func newHandler(coordinator *service.Coordinator, peers *peerTable) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, coordinator, peers)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func handleWSConn(conn *websocket.Conn, coordinator *service.Coordinator, peers *peerTable) {
	defer func() {
		_ = conn.Close()
	}()

	connID := uuid.NewString()
	peer := newWSPeer(json.NewEncoder(conn))
	peers.register(connID, peer)

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	defer func() {
		peers.drop(connID)
		coordinator.Disconnect(context.Background(), connID)
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload", false)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large", false)
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded", false)
			return
		}

		switch frame.Type {
		case "poker.join":
			handleJoinFrame(ctx, coordinator, peer, connID, frame)
		case "poker.vote":
			handleVoteFrame(ctx, coordinator, peer, connID, frame)
		case "poker.reset":
			handleResetFrame(ctx, coordinator, peer, connID, frame)
		case "poker.leave":
			handleLeaveFrame(ctx, coordinator, peer, connID, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type", false)
		}
	}
}

func handleJoinFrame(ctx context.Context, coordinator *service.Coordinator, peer *wsPeer, connID string, frame wsFrame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload", false)
		return
	}

	code, _, err := coordinator.Join(ctx, connID, payload.SessionCode, payload.PlayerName, payload.IsSpectator)
	if err != nil {
		writeDomainError(peer, frame.RequestID, err)
		return
	}

	_ = peer.writeFrame(wsFrame{
		Type:      "poker.joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			SessionCode: code,
			PlayerName:  strings.TrimSpace(payload.PlayerName),
			IsSpectator: payload.IsSpectator,
			ServerTime:  time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func handleVoteFrame(ctx context.Context, coordinator *service.Coordinator, peer *wsPeer, connID string, frame wsFrame) {
	var payload votePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid vote payload", false)
		return
	}

	if _, err := coordinator.CastVote(ctx, connID, payload.Vote); err != nil {
		writeDomainError(peer, frame.RequestID, err)
	}
}

func handleResetFrame(ctx context.Context, coordinator *service.Coordinator, peer *wsPeer, connID string, frame wsFrame) {
	if _, err := coordinator.ResetVotes(ctx, connID); err != nil {
		writeDomainError(peer, frame.RequestID, err)
	}
}

func handleLeaveFrame(ctx context.Context, coordinator *service.Coordinator, peer *wsPeer, connID string, frame wsFrame) {
	binding, bound := coordinator.Binding(connID)
	if err := coordinator.Leave(ctx, connID); err != nil {
		writeDomainError(peer, frame.RequestID, err)
		return
	}
	sessionCode := ""
	if bound {
		sessionCode = binding.SessionCode
	}
	_ = peer.writeFrame(wsFrame{
		Type:      "poker.left",
		RequestID: frame.RequestID,
		Payload:   mustJSON(leftPayload{SessionCode: sessionCode}),
	})
}

// writeDomainError maps a coordinator error onto the wire. CONFLICT is the
// only retryable code: the client may replay the same command.
func writeDomainError(peer *wsPeer, requestID string, err error) {
	code := platformerrors.CodeOf(err)
	message := "internal error"
	var domainErr *platformerrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	_ = writeWSError(peer, requestID, string(code), message, code == platformerrors.CodeConflict)
}

func writeWSError(peer *wsPeer, requestID string, code string, message string, retryable bool) error {
	return peer.writeFrame(wsFrame{
		Type:      "poker.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: retryable,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
