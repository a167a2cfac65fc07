package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// JSON-RPC error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

const (
	// CommandCheck is the workspace command that checks one document.
	CommandCheck = "clafer.check"
	// DefaultLanguageID is the languageId editors use for Clafer models.
	DefaultLanguageID = "clafer"
	// DefaultExtension is the file extension of Clafer models.
	DefaultExtension = ".cfr"
)

// Options configures a Server.
type Options struct {
	Compiler    *compiler.Runner // a default Runner when nil
	LanguageID  string           // DefaultLanguageID when empty
	Extensions  []string         // []string{DefaultExtension} when empty
	NotifyClean bool             // announce runs that produced no diagnostics
	Version     string
	Logger      *slog.Logger
}

// Server implements the Language Server Protocol for Clafer.
type Server struct {
	// Document management
	documents *DocumentStore

	compiler *compiler.Runner
	version  string

	settingsMu  sync.RWMutex
	languageID  string
	extensions  []string
	notifyClean bool
	rootPath    string

	// URIs that currently have diagnostics on the client
	published map[string]struct{}
	publishMu sync.Mutex

	// Background compiler runs
	ctx context.Context
	wg  sync.WaitGroup

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	// Logging
	logger *slog.Logger

	// Shutdown state
	shutdown   bool
	shutdownMu sync.RWMutex
}

// NewServer creates a new LSP server instance.
func NewServer(reader io.Reader, writer io.Writer, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	runner := opts.Compiler
	if runner == nil {
		runner = compiler.New(compiler.Options{Logger: logger})
	}
	languageID := opts.LanguageID
	if languageID == "" {
		languageID = DefaultLanguageID
	}
	extensions := normalizeExtensions(opts.Extensions)
	if len(extensions) == 0 {
		extensions = []string{DefaultExtension}
	}
	return &Server{
		documents:   NewDocumentStore(),
		compiler:    runner,
		version:     opts.Version,
		languageID:  languageID,
		extensions:  extensions,
		notifyClean: opts.NotifyClean,
		published:   make(map[string]struct{}),
		ctx:         context.Background(),
		reader:      bufio.NewReader(reader),
		writer:      writer,
		logger:      logger,
	}
}

// Run starts the server's main loop, processing JSON-RPC messages until the
// input closes or the client sends "exit". Compiler runs still in flight when
// Run returns are cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()
	s.ctx = ctx

	s.logger.Info("Clafer LSP server starting...")

	for {
		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("Client disconnected")
				return nil
			}
			s.logger.Error("Error reading message", "error", err)
			continue
		}

		if err := s.handleMessage(msg); err != nil {
			if errors.Is(err, ErrExit) || errors.Is(err, ErrExitWithoutShutdown) {
				return err
			}
			s.logger.Error("Error handling message", "method", msg.Method, "error", err)
		}
	}
}

// JSONRPCMessage represents a JSON-RPC 2.0 message.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// readMessage reads a JSON-RPC message from the input stream.
func (s *Server) readMessage() (*JSONRPCMessage, error) {
	// Read headers
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}

		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			contentLength, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	// Read body
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}

	return &msg, nil
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(id *json.RawMessage, result any, err *JSONRPCError) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
	}

	if err != nil {
		msg.Error = err
	} else {
		resultBytes, _ := json.Marshal(result)
		msg.Result = resultBytes
	}

	s.writeMessage(&msg)
}

// sendError answers a request with a JSON-RPC error.
func (s *Server) sendError(id *json.RawMessage, code int, message string) {
	s.sendResponse(id, nil, &JSONRPCError{Code: code, Message: message})
}

// sendNotification sends a JSON-RPC notification (no ID).
func (s *Server) sendNotification(method string, params any) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}

	s.writeMessage(&msg)
}

// showMessage sends a window/showMessage notification.
func (s *Server) showMessage(typ MessageType, message string) {
	s.sendNotification("window/showMessage", &ShowMessageParams{Type: typ, Message: message})
}

// writeMessage writes a JSON-RPC message to the output stream.
func (s *Server) writeMessage(msg *JSONRPCMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Error marshaling message", "error", err)
		return
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(s.writer, header); err != nil {
		s.logger.Error("Error writing message", "error", err)
		return
	}
	if _, err := s.writer.Write(body); err != nil {
		s.logger.Error("Error writing message", "error", err)
	}
}

// handleMessage dispatches a message to the appropriate handler.
func (s *Server) handleMessage(msg *JSONRPCMessage) error {
	s.logger.Debug("Received", "method", msg.Method)

	if msg.Method == "exit" {
		return s.handleExit()
	}
	if s.isShutdown() {
		if msg.ID != nil {
			s.sendError(msg.ID, codeInvalidRequest, "server is shutting down")
		}
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return s.handleInitialized(msg)
	case "shutdown":
		return s.handleShutdown(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(msg)
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	default:
		if msg.ID != nil {
			// Unknown method with ID - respond with method not found
			s.sendError(msg.ID, codeMethodNotFound, "Method not found: "+msg.Method)
		}
		return nil
	}
}

// --- Lifecycle handlers ---

func (s *Server) handleInitialize(msg *JSONRPCMessage) error {
	var params InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.sendError(msg.ID, codeInvalidParams, err.Error())
			return fmt.Errorf("initialize: %w", err)
		}
	}

	root := URIToPath(params.RootURI)
	if root == "" {
		root = params.RootPath
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	s.settingsMu.Lock()
	s.rootPath = root
	s.settingsMu.Unlock()
	s.logger.Info("Project root", "path", root)

	if err := s.applySettings(params.InitializationOptions); err != nil {
		s.logger.Warn("Ignoring initialization options", "error", err)
	}

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
				Save: &SaveOptions{
					IncludeText: true,
				},
			},
			ExecuteCommandProvider: &ExecuteCommandOptions{
				Commands: []string{CommandCheck},
			},
		},
		ServerInfo: &ServerInfo{Name: "clafer-lsp", Version: s.version},
	}

	s.sendResponse(msg.ID, result, nil)
	return nil
}

func (s *Server) handleInitialized(_ *JSONRPCMessage) error {
	s.logger.Info("Server initialized")
	s.probeCompiler()
	return nil
}

// probeCompiler checks for the compiler in the background and warns the
// user when it cannot be run.
func (s *Server) probeCompiler() {
	s.goAsync(func(ctx context.Context) {
		avail := s.compiler.Probe(ctx)
		if avail.Available || ctx.Err() != nil {
			return
		}
		s.showMessage(MessageTypeWarning, fmt.Sprintf(
			"Clafer compiler %q was not found. Install Clafer or set clafer.compilerPath to enable diagnostics.",
			avail.Path))
	})
}

func (s *Server) handleShutdown(msg *JSONRPCMessage) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.sendResponse(msg.ID, nil, nil)
	s.logger.Info("Server shutdown")
	return nil
}

func (s *Server) handleExit() error {
	s.logger.Info("Server exit")
	if s.isShutdown() {
		return ErrExit
	}
	return ErrExitWithoutShutdown
}

func (s *Server) isShutdown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdown
}

// --- Document handlers ---

func (s *Server) handleDidOpen(msg *JSONRPCMessage) error {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return fmt.Errorf("didOpen: %w", err)
	}

	s.documents.Open(params.TextDocument.URI, params.TextDocument.LanguageID,
		params.TextDocument.Text, params.TextDocument.Version)
	s.logger.Debug("Opened", "uri", params.TextDocument.URI)
	return nil
}

func (s *Server) handleDidClose(msg *JSONRPCMessage) error {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return fmt.Errorf("didClose: %w", err)
	}

	s.documents.Close(params.TextDocument.URI)
	s.logger.Debug("Closed", "uri", params.TextDocument.URI)

	s.clearDiagnostics(params.TextDocument.URI)
	return nil
}

func (s *Server) handleDidChange(msg *JSONRPCMessage) error {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return fmt.Errorf("didChange: %w", err)
	}

	// We use full sync, so take the last change
	if len(params.ContentChanges) > 0 {
		lastChange := params.ContentChanges[len(params.ContentChanges)-1]
		s.documents.Update(params.TextDocument.URI, lastChange.Text, params.TextDocument.Version)
	}
	return nil
}

func (s *Server) handleDidSave(msg *JSONRPCMessage) error {
	var params DidSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return fmt.Errorf("didSave: %w", err)
	}

	uri := params.TextDocument.URI
	if params.Text != nil {
		if doc := s.documents.Get(uri); doc != nil {
			s.documents.Update(uri, *params.Text, doc.Version)
		}
	}

	if !s.isClaferDocument(uri) {
		s.logger.Debug("Ignoring save of non-Clafer document", "uri", uri)
		return nil
	}
	s.logger.Info("Saved", "path", URIToPath(uri))
	s.check(uri)
	return nil
}

// --- Workspace handlers ---

func (s *Server) handleExecuteCommand(msg *JSONRPCMessage) error {
	var params ExecuteCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return fmt.Errorf("executeCommand: %w", err)
	}

	if params.Command != CommandCheck {
		s.sendError(msg.ID, codeMethodNotFound, "Unknown command: "+params.Command)
		return nil
	}

	uri, err := commandURI(params.Arguments)
	if err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return fmt.Errorf("%s: %w", CommandCheck, err)
	}

	s.check(uri)
	s.sendResponse(msg.ID, nil, nil)
	return nil
}

// commandURI extracts the document URI from clafer.check arguments. The
// argument is either a URI string or an object with a "uri" field.
func commandURI(args []json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", errors.New("missing document URI argument")
	}
	var uri string
	if err := json.Unmarshal(args[0], &uri); err != nil {
		var doc TextDocumentIdentifier
		if err := json.Unmarshal(args[0], &doc); err != nil {
			return "", fmt.Errorf("invalid document argument: %w", err)
		}
		uri = doc.URI
	}
	if uri == "" {
		return "", errors.New("missing document URI argument")
	}
	if !strings.Contains(uri, "://") {
		uri = PathToURI(uri)
	}
	return uri, nil
}

// isClaferDocument reports whether uri names a Clafer model, either by the
// languageId of the open document or by file extension.
func (s *Server) isClaferDocument(uri string) bool {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()

	if doc := s.documents.Get(uri); doc != nil && doc.LanguageID == s.languageID {
		return true
	}
	ext := strings.ToLower(filepath.Ext(URIToPath(uri)))
	for _, want := range s.extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// goAsync runs fn in a goroutine bound to the server context.
func (s *Server) goAsync(fn func(ctx context.Context)) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
