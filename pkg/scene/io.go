package scene

import (
	"encoding/json"
	"fmt"
	"os"
)

// Marshal serializes a scene to pretty-printed JSON.
func Marshal(s *Scene) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Unmarshal decodes a scene and checks that it has nodes.
func Unmarshal(data []byte) (*Scene, error) {
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal scene: %w", err)
	}
	if len(s.Nodes) == 0 {
		return nil, ErrEmptyScene
	}
	return &s, nil
}

// WriteFile writes a scene as JSON.
func WriteFile(s *Scene, path string) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads a scene written by [WriteFile].
func ReadFile(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Unmarshal(data)
}
