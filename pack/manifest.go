package pack

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	"gopkg.in/yaml.v3"
)

// ManifestName is the archive member every package must carry.
const ManifestName = "manifest.yaml"

// Manifest describes a package's identity and contents.
type Manifest struct {
	Name      string   `yaml:"name"`
	Version   string   `yaml:"version"`
	Requires  []string `yaml:"requires,omitempty"`
	Resources []Entry  `yaml:"resources"`
}

// Entry maps one named, typed resource to its path inside the archive.
type Entry struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// parseManifest decodes and checks the manifest. The version must be valid
// semver; every resource needs a name and a path.
func parseManifest(data []byte) (*Manifest, *semver.Version, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Name == "" {
		return nil, nil, fmt.Errorf("manifest missing package name")
	}
	version, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest version %q: %w", m.Version, err)
	}
	for i, e := range m.Resources {
		if e.Name == "" || e.Path == "" {
			return nil, nil, fmt.Errorf("resource %d missing name or path", i)
		}
	}
	return &m, version, nil
}
