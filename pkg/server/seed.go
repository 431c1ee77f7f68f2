package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// ReadBoxes parses a YAML or JSON list of box documents. Documents go
// through their JSON form so locations accept the same shapes as
// measurements, [lng, lat] or {lat, lng}.
func ReadBoxes(path string) ([]storage.Box, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var boxes []storage.Box
	if err := json.Unmarshal(asJSON, &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validateBoxes(boxes); err != nil {
		return nil, fmt.Errorf("invalid box document in %s: %w", path, err)
	}
	return boxes, nil
}

func validateBoxes(boxes []storage.Box) error {
	boxIDs := make(map[string]bool, len(boxes))
	sensorIDs := make(map[string]bool)
	for i, b := range boxes {
		if b.ID == "" {
			return fmt.Errorf("box %d has no id", i)
		}
		if boxIDs[b.ID] {
			return fmt.Errorf("duplicate box id %s", b.ID)
		}
		boxIDs[b.ID] = true

		if err := b.Location.Validate(); err != nil {
			return fmt.Errorf("box %s: %w", b.ID, err)
		}
		for _, s := range b.Sensors {
			if s.ID == "" {
				return fmt.Errorf("box %s has a sensor without id", b.ID)
			}
			if sensorIDs[s.ID] {
				return fmt.Errorf("duplicate sensor id %s", s.ID)
			}
			sensorIDs[s.ID] = true
		}
	}
	return nil
}

// SeedBoxes loads the boxes file into store and returns how many box
// documents were written.
func SeedBoxes(ctx context.Context, store storage.Storage, path string) (int, error) {
	boxes, err := ReadBoxes(path)
	if err != nil {
		return 0, err
	}
	if err := store.PutBoxes(ctx, boxes); err != nil {
		return 0, fmt.Errorf("failed to store boxes: %w", err)
	}
	return len(boxes), nil
}
