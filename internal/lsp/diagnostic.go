package lsp

import (
	"context"
	"errors"
	"math"
	"os"

	"fortio.org/safecast"

	"github.com/EthanJamesLew/clafer-vscode/internal/diagnostic"
)

const (
	diagnosticSource = "clafer"

	msgCouldNotRun = "Could not run Clafer: "
	msgClean       = "Clafer finished (no diagnostics)."
)

// check clears every published diagnostic and compiles uri in the
// background. Runs for different triggers are not coordinated.
func (s *Server) check(uri string) {
	s.clearAllDiagnostics()
	s.goAsync(func(ctx context.Context) {
		s.runCheck(ctx, uri)
	})
}

// runCheck compiles the document behind uri and publishes what the compiler
// reported.
func (s *Server) runCheck(ctx context.Context, uri string) {
	path := URIToPath(uri)
	if path == "" {
		s.showMessage(MessageTypeError, msgCouldNotRun+"unsupported document URI "+uri)
		return
	}

	res, err := s.compiler.Run(ctx, path)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			s.logger.Debug("Compiler run cancelled", "path", path)
			return
		}
		s.logger.Warn("Compiler run failed", "path", path, "error", err)
		s.showMessage(MessageTypeError, msgCouldNotRun+err.Error())
		return
	}
	if res.ExitErr != nil {
		s.logger.Debug("Compiler exited with error", "path", path, "error", res.ExitErr)
	}

	diags := diagnostic.Parse(res.Stdout, s.linesFor(uri, path))
	s.logger.Info("Compiled", "path", path, "diagnostics", len(diags), "duration", res.Duration)

	s.publishDiagnostics(uri, diags)
	if len(diags) == 0 && s.shouldNotifyClean() {
		s.showMessage(MessageTypeInfo, msgClean)
	}
}

// linesFor returns the text diagnostics are clamped against: the open
// document if there is one, otherwise the file on disk.
func (s *Server) linesFor(uri, path string) diagnostic.Lines {
	if doc := s.documents.Get(uri); doc != nil {
		return doc.Text
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the client
	if err != nil {
		s.logger.Debug("Could not read document for clamping", "path", path, "error", err)
		return diagnostic.NewText("")
	}
	return diagnostic.NewText(string(data))
}

// publishDiagnostics sends diags for uri and remembers that uri has
// diagnostics on the client.
func (s *Server) publishDiagnostics(uri string, diags []diagnostic.Diagnostic) {
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, toProtocol(d))
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if len(out) > 0 {
		s.published[uri] = struct{}{}
	} else {
		delete(s.published, uri)
	}
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: out,
	})
}

// clearAllDiagnostics empties the diagnostic collection.
func (s *Server) clearAllDiagnostics() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	for uri := range s.published {
		s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: []Diagnostic{},
		})
	}
	clear(s.published)
}

// clearDiagnostics removes the diagnostics of a single document.
func (s *Server) clearDiagnostics(uri string) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	delete(s.published, uri)
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []Diagnostic{},
	})
}

func toProtocol(d diagnostic.Diagnostic) Diagnostic {
	line := toUint32(d.Line)
	return Diagnostic{
		Range: Range{
			Start: Position{Line: line, Character: toUint32(d.Column)},
			End:   Position{Line: line, Character: toUint32(d.EndColumn)},
		},
		Severity: DiagnosticSeverity(d.Severity),
		Source:   diagnosticSource,
		Message:  d.Message,
	}
}

// toUint32 converts a clamped, non-negative coordinate; values past the
// protocol's range saturate.
func toUint32(v int) uint32 {
	n, err := safecast.Conv[uint32](v)
	if err != nil {
		if v < 0 {
			return 0
		}
		return math.MaxUint32
	}
	return n
}
