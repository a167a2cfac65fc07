package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanJamesLew/clafer-vscode/internal/compiler"
	"github.com/EthanJamesLew/clafer-vscode/internal/testutil"
)

const waitTimeout = 5 * time.Second

// testClient drives a Server over in-memory pipes.
type testClient struct {
	t      *testing.T
	in     *io.PipeWriter
	msgs   chan *JSONRPCMessage
	done   chan error
	nextID int
}

func startServer(t *testing.T, opts Options) *testClient {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	if opts.Compiler == nil {
		opts.Compiler = compiler.New(compiler.Options{
			Path:   filepath.Join(t.TempDir(), "missing-clafer"),
			Logger: opts.Logger,
		})
	}

	clientOutR, clientOutW := io.Pipe()
	serverOutR, serverOutW := io.Pipe()
	server := NewServer(clientOutR, serverOutW, opts)

	c := &testClient{
		t:    t,
		in:   clientOutW,
		msgs: make(chan *JSONRPCMessage, 128),
		done: make(chan error, 1),
	}

	go func() {
		err := server.Run(context.Background())
		_ = serverOutW.Close()
		c.done <- err
	}()

	go func() {
		reader := &Server{reader: bufio.NewReader(serverOutR), logger: opts.Logger}
		defer close(c.msgs)
		for {
			msg, err := reader.readMessage()
			if err != nil {
				return
			}
			c.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		_ = clientOutW.Close()
		select {
		case <-c.done:
		case <-time.After(waitTimeout):
			t.Error("server did not stop")
		}
	})
	return c
}

func (c *testClient) send(msg JSONRPCMessage) {
	c.t.Helper()
	msg.JSONRPC = "2.0"
	body, err := json.Marshal(msg)
	require.NoError(c.t, err)
	_, err = fmt.Fprintf(c.in, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(c.t, err)
}

func (c *testClient) notify(method string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	c.send(JSONRPCMessage{Method: method, Params: raw})
}

func (c *testClient) request(method string, params any) int {
	c.t.Helper()
	c.nextID++
	id := json.RawMessage(fmt.Sprintf("%d", c.nextID))
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		require.NoError(c.t, err)
	}
	c.send(JSONRPCMessage{ID: &id, Method: method, Params: raw})
	return c.nextID
}

// next returns the next message from the server.
func (c *testClient) next() *JSONRPCMessage {
	c.t.Helper()
	select {
	case msg, ok := <-c.msgs:
		require.True(c.t, ok, "server closed its output")
		return msg
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for server message")
		return nil
	}
}

// waitFor skips messages until one with the given method arrives.
func (c *testClient) waitFor(method string) *JSONRPCMessage {
	c.t.Helper()
	for {
		msg := c.next()
		if msg.Method == method {
			return msg
		}
	}
}

// response skips messages until the response to id arrives.
func (c *testClient) response(id int) *JSONRPCMessage {
	c.t.Helper()
	want := fmt.Sprintf("%d", id)
	for {
		msg := c.next()
		if msg.Method == "" && msg.ID != nil && string(*msg.ID) == want {
			return msg
		}
	}
}

func (c *testClient) initialize(options any) {
	c.t.Helper()
	id := c.request("initialize", map[string]any{
		"processId":             1,
		"rootUri":               PathToURI(c.t.TempDir()),
		"initializationOptions": options,
	})
	resp := c.response(id)
	require.Nil(c.t, resp.Error)
	c.notify("initialized", map[string]any{})
}

func (c *testClient) open(uri, languageID, text string) {
	c.t.Helper()
	c.notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: languageID, Version: 1, Text: text},
	})
}

func (c *testClient) save(uri string) {
	c.t.Helper()
	c.notify("textDocument/didSave", DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

func (c *testClient) exitErr() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		c.done <- err
		return err
	case <-time.After(waitTimeout):
		c.t.Fatal("server did not exit")
		return nil
	}
}

func decodeParams[T any](t *testing.T, msg *JSONRPCMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Params, &v))
	return v
}

func newRunner(t *testing.T, script string) *compiler.Runner {
	t.Helper()
	return compiler.New(compiler.Options{
		Path:   testutil.WriteFakeCompiler(t, script),
		Logger: testutil.NewTestLogger(t),
	})
}

func TestInitialize_Capabilities(t *testing.T) {
	c := startServer(t, Options{Version: "1.2.3"})

	id := c.request("initialize", InitializeParams{ProcessID: 1, RootURI: PathToURI(t.TempDir())})
	resp := c.response(id)

	require.Nil(t, resp.Error)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.NotNil(t, result.Capabilities.TextDocumentSync)
	assert.True(t, result.Capabilities.TextDocumentSync.OpenClose)
	assert.Equal(t, TextDocumentSyncKindFull, result.Capabilities.TextDocumentSync.Change)
	require.NotNil(t, result.Capabilities.TextDocumentSync.Save)
	require.NotNil(t, result.Capabilities.ExecuteCommandProvider)
	assert.Equal(t, []string{CommandCheck}, result.Capabilities.ExecuteCommandProvider.Commands)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "1.2.3", result.ServerInfo.Version)
}

func TestInitialize_InvalidParams(t *testing.T) {
	c := startServer(t, Options{})

	raw := json.RawMessage(`"not an object"`)
	id := json.RawMessage(`7`)
	c.send(JSONRPCMessage{ID: &id, Method: "initialize", Params: raw})

	resp := c.response(7)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestInitialized_WarnsWhenCompilerMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-clafer")
	c := startServer(t, Options{Compiler: compiler.New(compiler.Options{Path: missing})})

	c.initialize(nil)

	msg := c.waitFor("window/showMessage")
	params := decodeParams[ShowMessageParams](t, msg)
	assert.Equal(t, MessageTypeWarning, params.Type)
	assert.Contains(t, params.Message, missing)
}

func TestSave_PublishesClampedDiagnostics(t *testing.T) {
	runner := newRunner(t, `echo "Parse failed at line 2 column 40..."; echo "syntax error at line 9 before }"`)
	c := startServer(t, Options{Compiler: runner, NotifyClean: true})
	c.initialize(nil)

	// The disk copy differs from the buffer; clamping must use the buffer.
	path := testutil.WriteFile(t, "model.cfr", "x\n")
	uri := PathToURI(path)
	c.open(uri, "clafer", "abstract Person\n  name\n")
	c.save(uri)

	msg := c.waitFor("textDocument/publishDiagnostics")
	params := decodeParams[PublishDiagnosticsParams](t, msg)
	assert.Equal(t, uri, params.URI)
	require.Len(t, params.Diagnostics, 2)

	first := params.Diagnostics[0]
	assert.Equal(t, "Parse failed at line 2 column 40...", first.Message)
	assert.Equal(t, DiagnosticSeverityError, first.Severity)
	assert.Equal(t, Range{Start: Position{Line: 1, Character: 6}, End: Position{Line: 1, Character: 6}}, first.Range)

	second := params.Diagnostics[1]
	assert.Equal(t, "syntax error at line 9 before }", second.Message)
	assert.Equal(t, Range{Start: Position{Line: 2, Character: 0}, End: Position{Line: 2, Character: 0}}, second.Range)
}

func TestSave_CleanRunNotifies(t *testing.T) {
	runner := newRunner(t, `echo "Compiled OK"`)
	c := startServer(t, Options{Compiler: runner, NotifyClean: true})
	c.initialize(nil)

	uri := PathToURI(testutil.WriteFile(t, "model.cfr", "abstract A\n"))
	c.open(uri, "clafer", "abstract A\n")
	c.save(uri)

	published := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	assert.Empty(t, published.Diagnostics)

	msg := decodeParams[ShowMessageParams](t, c.waitFor("window/showMessage"))
	assert.Equal(t, MessageTypeInfo, msg.Type)
	assert.Equal(t, "Clafer finished (no diagnostics).", msg.Message)
}

func TestSave_CleanRunQuietWhenDisabled(t *testing.T) {
	runner := newRunner(t, `echo "Compiled OK"`)
	c := startServer(t, Options{Compiler: runner, NotifyClean: true})
	c.initialize(nil)
	c.notify("workspace/didChangeConfiguration", map[string]any{
		"settings": map[string]any{"clafer": map[string]any{"notifyClean": false}},
	})

	uri := PathToURI(testutil.WriteFile(t, "model.cfr", "abstract A\n"))
	c.open(uri, "clafer", "abstract A\n")
	c.save(uri)
	c.waitFor("textDocument/publishDiagnostics")

	id := c.request("clafer/unknown", nil)
	next := c.next()
	require.NotNil(t, next.ID, "expected the response, got %q", next.Method)
	assert.Equal(t, fmt.Sprintf("%d", id), string(*next.ID))
}

func TestSave_FailureWithoutOutputShowsError(t *testing.T) {
	runner := newRunner(t, `echo "java.lang.OutOfMemoryError" >&2; exit 1`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	uri := PathToURI(testutil.WriteFile(t, "model.cfr", "abstract A\n"))
	c.open(uri, "clafer", "abstract A\n")
	c.save(uri)

	msg := decodeParams[ShowMessageParams](t, c.waitFor("window/showMessage"))
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Message, "Could not run Clafer: ")
	assert.Contains(t, msg.Message, "OutOfMemoryError")
}

func TestSave_FailureWithOutputStillParsed(t *testing.T) {
	runner := newRunner(t, `echo "Compile error at line 1 column 1..."; exit 1`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	uri := PathToURI(testutil.WriteFile(t, "model.cfr", "abstract A\n"))
	c.open(uri, "clafer", "abstract A\n")
	c.save(uri)

	params := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	require.Len(t, params.Diagnostics, 1)
	assert.Equal(t, uint32(10), params.Diagnostics[0].Range.End.Character)
}

func TestSave_IgnoresOtherLanguages(t *testing.T) {
	runner := newRunner(t, `echo "Parse failed at line 1 column 1..."`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	uri := PathToURI(testutil.WriteFile(t, "notes.txt", "hello\n"))
	c.open(uri, "plaintext", "hello\n")
	c.save(uri)

	id := c.request("clafer/unknown", nil)
	next := c.next()
	require.NotNil(t, next.ID, "expected no check, got %q", next.Method)
	assert.Equal(t, fmt.Sprintf("%d", id), string(*next.ID))
}

func TestSave_ExtensionMatchesWithoutLanguageID(t *testing.T) {
	runner := newRunner(t, `echo "Parse failed at line 1 column 1..."`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	uri := PathToURI(testutil.WriteFile(t, "model.CFR", "abstract A\n"))
	c.open(uri, "plaintext", "abstract A\n")
	c.save(uri)

	params := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	assert.Len(t, params.Diagnostics, 1)
}

func TestCheck_ClearsPreviousDiagnostics(t *testing.T) {
	runner := newRunner(t, `echo "Parse failed at line 1 column 1..."`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	first := PathToURI(testutil.WriteFile(t, "a.cfr", "abstract A\n"))
	second := PathToURI(testutil.WriteFile(t, "b.cfr", "abstract B\n"))

	c.open(first, "clafer", "abstract A\n")
	c.save(first)
	params := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	require.Equal(t, first, params.URI)
	require.Len(t, params.Diagnostics, 1)

	c.open(second, "clafer", "abstract B\n")
	c.save(second)

	cleared := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	assert.Equal(t, first, cleared.URI)
	assert.Empty(t, cleared.Diagnostics)

	fresh := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	assert.Equal(t, second, fresh.URI)
	assert.Len(t, fresh.Diagnostics, 1)
}

func TestDidClose_ClearsDiagnostics(t *testing.T) {
	c := startServer(t, Options{})
	c.initialize(nil)

	uri := "file:///tmp/model.cfr"
	c.open(uri, "clafer", "abstract A\n")
	c.notify("textDocument/didClose", DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})

	params := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	assert.Equal(t, uri, params.URI)
	assert.NotNil(t, params.Diagnostics)
	assert.Empty(t, params.Diagnostics)
}

func TestExecuteCommand_ChecksUnopenedFileFromDisk(t *testing.T) {
	runner := newRunner(t, `echo "Compile error at line 1 column 3..."`)
	c := startServer(t, Options{Compiler: runner})
	c.initialize(nil)

	path := testutil.WriteFile(t, "model.cfr", "abstract Person\n")
	id := c.request("workspace/executeCommand", ExecuteCommandParams{
		Command:   CommandCheck,
		Arguments: []json.RawMessage{json.RawMessage(fmt.Sprintf("%q", PathToURI(path)))},
	})

	resp := c.response(id)
	assert.Nil(t, resp.Error)

	params := decodeParams[PublishDiagnosticsParams](t, c.waitFor("textDocument/publishDiagnostics"))
	require.Len(t, params.Diagnostics, 1)
	assert.Equal(t, Range{Start: Position{Line: 0, Character: 2}, End: Position{Line: 0, Character: 15}}, params.Diagnostics[0].Range)
}

func TestExecuteCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		params   ExecuteCommandParams
		wantCode int
	}{
		{
			name:     "unknown command",
			params:   ExecuteCommandParams{Command: "clafer.format"},
			wantCode: codeMethodNotFound,
		},
		{
			name:     "missing argument",
			params:   ExecuteCommandParams{Command: CommandCheck},
			wantCode: codeInvalidParams,
		},
		{
			name: "wrong argument type",
			params: ExecuteCommandParams{
				Command:   CommandCheck,
				Arguments: []json.RawMessage{json.RawMessage(`42`)},
			},
			wantCode: codeInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startServer(t, Options{})
			id := c.request("workspace/executeCommand", tt.params)
			resp := c.response(id)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	c := startServer(t, Options{})

	id := c.request("textDocument/hover", map[string]any{})
	resp := c.response(id)

	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestExit(t *testing.T) {
	t.Run("after shutdown", func(t *testing.T) {
		c := startServer(t, Options{})
		id := c.request("shutdown", nil)
		resp := c.response(id)
		assert.Nil(t, resp.Error)

		next := c.request("initialize", map[string]any{})
		rejected := c.response(next)
		require.NotNil(t, rejected.Error)
		assert.Equal(t, codeInvalidRequest, rejected.Error.Code)

		c.notify("exit", nil)
		assert.True(t, errors.Is(c.exitErr(), ErrExit))
	})

	t.Run("without shutdown", func(t *testing.T) {
		c := startServer(t, Options{})
		c.notify("exit", nil)
		assert.True(t, errors.Is(c.exitErr(), ErrExitWithoutShutdown))
	})
}

func TestRun_ReturnsNilOnEOF(t *testing.T) {
	c := startServer(t, Options{})
	require.NoError(t, c.in.Close())
	assert.NoError(t, c.exitErr())
}
