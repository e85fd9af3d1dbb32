package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Export writes messages to path as YAML (.yaml, .yml) or indented JSON.
// The write is atomic and guarded by a sibling lock file so two clients
// exporting to the same path cannot interleave.
func Export(path string, messages []Message) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("export path is empty")
	}

	data, err := encode(path, messages)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire export lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("export target %s is locked by another process", path)
	}
	defer func() {
		_ = fileLock.Unlock()
		_ = os.Remove(path + ".lock")
	}()

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

type exportDocument struct {
	ExportedMessages int       `json:"message_count" yaml:"message_count"`
	Messages         []Message `json:"messages" yaml:"messages"`
}

func encode(path string, messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	doc := exportDocument{ExportedMessages: len(messages), Messages: messages}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return append(data, '\n'), nil
	}
}
