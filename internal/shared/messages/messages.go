package messages

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"ofbconnect/internal/shared/apperr"
)

//go:embed messages.json
var defaultMessages []byte

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Messages struct {
	SyncComplete   MessageText       `json:"sync_complete"`
	ConsentExpired MessageText       `json:"consent_expired"`
	Errors         map[string]string `json:"errors"`
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the messages JSON file and caches the result. An empty path uses
// the embedded defaults. Keys missing from the file fall back to the defaults.
// Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		if err := json.Unmarshal(defaultMessages, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse default messages: %w", err)
			return
		}
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		var override Messages
		if err := json.Unmarshal(data, &override); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
			return
		}
		loaded.merge(override)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

// Default returns the embedded messages, ignoring any override file.
func Default() *Messages {
	var m Messages
	// The embedded file is part of the binary; a parse failure is a build defect.
	if err := json.Unmarshal(defaultMessages, &m); err != nil {
		panic(fmt.Sprintf("messages: invalid embedded messages.json: %v", err))
	}
	return &m
}

func (m *Messages) merge(o Messages) {
	if o.SyncComplete.Title != "" {
		m.SyncComplete = o.SyncComplete
	}
	if o.ConsentExpired.Title != "" {
		m.ConsentExpired = o.ConsentExpired
	}
	for k, v := range o.Errors {
		m.Errors[k] = v
	}
}

// ForError returns the short user-facing text for err. Raw provider payloads never reach it.
func (m *Messages) ForError(err error) string {
	if msg, ok := m.Errors[apperr.Kind(err)]; ok {
		return msg
	}
	return m.Errors["internal"]
}
