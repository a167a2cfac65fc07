package lsp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// clientSettings mirrors the "clafer" section of the editor settings.
type clientSettings struct {
	CompilerPath *string   `json:"compilerPath"`
	Args         *[]string `json:"args"`
	NotifyClean  *bool     `json:"notifyClean"`
}

type settingsEnvelope struct {
	Clafer *clientSettings `json:"clafer"`
}

func (s *Server) handleDidChangeConfiguration(msg *JSONRPCMessage) error {
	if len(msg.Params) == 0 {
		return nil
	}
	var params DidChangeConfigurationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return fmt.Errorf("didChangeConfiguration: %w", err)
	}
	return s.applySettings(params.Settings)
}

// applySettings merges client settings into the server. Both the wrapped
// form {"clafer": {...}} and the bare section are accepted. A changed
// compiler path forgets the cached availability and probes again.
func (s *Server) applySettings(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var env settingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	settings := env.Clafer
	if settings == nil {
		settings = &clientSettings{}
		if err := json.Unmarshal(raw, settings); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}

	if settings.NotifyClean != nil {
		s.settingsMu.Lock()
		s.notifyClean = *settings.NotifyClean
		s.settingsMu.Unlock()
	}

	if settings.CompilerPath == nil && settings.Args == nil {
		return nil
	}
	oldPath := s.compiler.Path()
	path := oldPath
	if settings.CompilerPath != nil {
		path = strings.TrimSpace(*settings.CompilerPath)
	}
	args := s.compiler.Args()
	if settings.Args != nil {
		args = *settings.Args
	}
	s.compiler.Configure(path, args)

	if newPath := s.compiler.Path(); newPath != oldPath {
		s.logger.Info("Compiler path changed", "from", oldPath, "to", newPath)
		s.probeCompiler()
	}
	return nil
}

func (s *Server) shouldNotifyClean() bool {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.notifyClean
}
