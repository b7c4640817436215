package scene

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a scene YAML file from disk.
//
// Example:
//
//	id: crypt
//	name: "The Sunless Crypt"
//	grid: {distance: 5, size: 100}
//	tokens:
//	  - id: knight
//	    name: "Sir Aldric"
//	    center: {x: 250, y: 250}
//	    width: 100
//	    height: 100
//	    disposition: 1
//	  - id: ghoul
//	    name: "Ghoul"
//	    center: {x: 150, y: 250}
//	    width: 100
//	    height: 100
//	    disposition: -1
//	    items:
//	      - {name: "Claws", action_type: mwak}
func LoadFile(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scene: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("scene: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes scene YAML from r and validates it. Unknown keys are
// rejected to catch typos.
func LoadFromReader(r io.Reader) (*Scene, error) {
	var s Scene
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scene: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scene: invalid: %w", err)
	}
	return &s, nil
}
