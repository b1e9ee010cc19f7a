package poster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads the poster manifest. JSON manifests parse as YAML.
func LoadManifest(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates manifest data.
func ParseManifest(data []byte) ([]Descriptor, error) {
	var descriptors []Descriptor
	if err := yaml.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("manifest has no posters")
	}
	for i := range descriptors {
		descriptors[i].Index = i
	}
	if err := ValidateAll(descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

// ValidateAll validates every descriptor and rejects duplicate ids outside
// a shared group.
func ValidateAll(descriptors []Descriptor) error {
	seen := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
		if group, ok := seen[d.ID]; ok && (group == "" || group != d.Group) {
			return fmt.Errorf("poster %s: duplicate id", d.ID)
		}
		seen[d.ID] = d.Group
	}
	return nil
}
