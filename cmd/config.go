package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clothfold/clothsim/sim"
)

// FileConfig represents the full config file structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	PhysicsWorld sim.Config  `yaml:"physics_world"`
	Scene        SceneConfig `yaml:"scene"`
}

// DefaultFileConfig returns the built-in physics constants and scene. A
// config file only needs to list what it changes.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		PhysicsWorld: *sim.DefaultConfig(),
		Scene:        DefaultScene(),
	}
}

// LoadConfig reads path over DefaultFileConfig with strict field checking:
// a misspelt key is an error, never a silently ignored constant.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultFileConfig()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadScene reads a standalone scene file over DefaultScene.
func LoadScene(path string) (SceneConfig, error) {
	scene := DefaultScene()
	data, err := os.ReadFile(path)
	if err != nil {
		return scene, fmt.Errorf("read scene %s: %w", path, err)
	}
	if err := decodeStrict(data, &scene); err != nil {
		return scene, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return scene, nil
}

func decodeStrict(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
