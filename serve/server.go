package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	azlet "github.com/Paranoid-AF/azlet"
	"github.com/Paranoid-AF/azlet/complete"
	"github.com/Paranoid-AF/azlet/parse"
)

// maxLineSize bounds one request line. Recommendation requests carry whole
// scripts.
const maxLineSize = 1 << 20

// Completer answers client requests. *complete.Engine implements it.
type Completer interface {
	Complete(ctx context.Context, req *azlet.Request) *azlet.Response
	Hover(ctx context.Context, req *azlet.HoverRequest) *azlet.HoverResponse
	Status(ctx context.Context) *azlet.StatusResponse
	Recommend(ctx context.Context, sess *complete.Session, req *azlet.RecommendRequest) *azlet.RecommendResponse
	NewSession(id string) *complete.Session
	Close()
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for completion requests.
type Server struct {
	listener   net.Listener
	sockPath   string
	configPath string
	build      func(cfg *azlet.Config) Completer

	mu       sync.Mutex
	engine   Completer
	inflight map[string]sessionEntry
	sessions map[string]*complete.Session
}

// NewServer loads the configuration and creates a server bound to sockPath.
// An empty configPath uses the default location.
func NewServer(sockPath, configPath string) (*Server, error) {
	build := func(cfg *azlet.Config) Completer {
		return complete.New(cfg, slog.Default())
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Warn("using default config", "error", err)
		cfg = azlet.DefaultConfig()
	}
	return newServer(sockPath, configPath, build(cfg), build)
}

// NewServerWithCompleter creates a server with a custom Completer. Reload
// requests keep using it.
func NewServerWithCompleter(sockPath string, completer Completer) (*Server, error) {
	return newServer(sockPath, "", completer, nil)
}

func newServer(sockPath, configPath string, completer Completer, build func(*azlet.Config) Completer) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "removing stale socket")
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", sockPath)
	}

	return &Server{
		listener:   listener,
		sockPath:   sockPath,
		configPath: configPath,
		build:      build,
		engine:     completer,
		inflight:   make(map[string]sessionEntry),
		sessions:   make(map[string]*complete.Session),
	}, nil
}

func loadConfig(path string) (*azlet.Config, error) {
	if path != "" {
		return azlet.LoadConfigFile(path)
	}
	return azlet.LoadConfig()
}

// Serve accepts connections and handles requests. It returns nil once the
// server is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server and the engine, and removes the socket file.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	engine := s.engine
	s.engine = nil
	for _, e := range s.inflight {
		e.cancel()
	}
	s.mu.Unlock()
	if engine != nil {
		engine.Close()
	}
	os.Remove(s.sockPath)
}

func (s *Server) completer() Completer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("request", "data", redactRequest(raw))
	}

	var typed azlet.TypedRequest
	if err := json.Unmarshal(raw, &typed); err != nil {
		slog.Warn("invalid request", "error", err)
		return
	}

	engine := s.completer()
	if engine == nil {
		return
	}

	switch {
	case typed.Action != "":
		var req azlet.ConfigRequest
		if decode(raw, &req) {
			s.handleConfigRequest(conn, &req)
		}
	case typed.Type == azlet.TypeHover:
		var req azlet.HoverRequest
		if decode(raw, &req) {
			writeJSON(conn, engine.Hover(context.Background(), &req))
		}
	case typed.Type == azlet.TypeStatus:
		writeJSON(conn, engine.Status(context.Background()))
	case typed.Type == azlet.TypeRecommend:
		var req azlet.RecommendRequest
		if decode(raw, &req) {
			writeJSON(conn, engine.Recommend(context.Background(), s.session(engine, req.SessionID), &req))
		}
	case typed.Type == azlet.TypeEndSession:
		var req azlet.EndSessionRequest
		if decode(raw, &req) {
			s.endSession(req.SessionID)
			writeJSON(conn, azlet.OKResponse{OK: true})
		}
	case typed.Type == "":
		var req azlet.Request
		if decode(raw, &req) {
			s.handleCompletion(conn, engine, &req)
		}
	default:
		writeJSON(conn, azlet.OKResponse{Error: &azlet.Error{
			Code:    "unknown_type",
			Message: "unknown request type: " + typed.Type,
		}})
	}
}

func decode(raw []byte, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Warn("invalid request", "error", err)
		return false
	}
	return true
}

func (s *Server) handleCompletion(conn net.Conn, engine Completer, req *azlet.Request) {
	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	reqID := req.RequestID
	if sid != "" {
		s.mu.Lock()
		if prev, ok := s.inflight[sid]; ok {
			prev.cancel()
		}
		s.inflight[sid] = sessionEntry{requestID: reqID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.inflight[sid]; ok && cur.requestID == reqID {
				delete(s.inflight, sid)
			}
			s.mu.Unlock()
		}
	}()

	resp := engine.Complete(ctx, req)

	// If cancelled, skip writing: the client has already moved on.
	if ctx.Err() != nil {
		return
	}

	resp.RequestID = req.RequestID
	writeJSON(conn, resp)
}

// session returns the recommendation state for id, creating it on first use.
// Requests without a session id get a fresh state each time.
func (s *Server) session(engine Completer, id string) *complete.Session {
	if id == "" {
		return engine.NewSession("")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = engine.NewSession(id)
		s.sessions[id] = sess
	}
	return sess
}

func (s *Server) endSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.inflight[id]; ok {
		e.cancel()
		delete(s.inflight, id)
	}
	delete(s.sessions, id)
}

func (s *Server) handleConfigRequest(conn net.Conn, req *azlet.ConfigRequest) {
	var resp azlet.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := loadConfig(s.configPath)
		if err != nil {
			resp.Error = &azlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Config = cfg
		}

	case "reload":
		cfg, err := loadConfig(s.configPath)
		if err != nil {
			resp.Error = &azlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
			break
		}
		resp.Config = cfg
		// Closing the old engine waits for its worker to exit, so do not
		// block the client.
		go s.reloadEngine(cfg)

	case "defaults":
		resp.Config = azlet.DefaultConfig()

	case "validate":
		cfg, err := loadConfig(s.configPath)
		if err != nil {
			resp.Error = &azlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Warnings = azlet.ValidateConfig(cfg)
		}

	default:
		resp.Error = &azlet.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}

	writeJSON(conn, resp)
}

func (s *Server) reloadEngine(cfg *azlet.Config) {
	if s.build == nil {
		slog.Info("engine reload skipped")
		return
	}
	next := s.build(cfg)

	s.mu.Lock()
	old := s.engine
	if old == nil {
		// Closed meanwhile.
		s.mu.Unlock()
		next.Close()
		return
	}
	s.engine = next
	// Sessions hold the old engine's worker.
	s.sessions = make(map[string]*complete.Session)
	s.mu.Unlock()

	old.Close()
	slog.Info("engine reloaded")
}

func writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}

// redactRequest renders a request line for logging with command lines
// passed through the redactor.
func redactRequest(raw []byte) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	if in, ok := m["input"].(string); ok {
		m["input"] = parse.Redact(in)
	}
	if lines, ok := m["lines"].([]any); ok {
		for i, l := range lines {
			if line, ok := l.(string); ok {
				lines[i] = parse.Redact(line)
			}
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
