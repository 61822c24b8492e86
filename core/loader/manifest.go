package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the file the discovery walk looks for
const ManifestFileName = "pipe.yaml"

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes one externally built pipe artifact
type Manifest struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Format      string `yaml:"format"`
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// FieldError is a single manifest validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the manifest's required fields. It returns every
// problem found rather than stopping at the first.
func (m Manifest) Validate() []FieldError {
	var errs []FieldError

	if m.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "pipe id is required"})
	}
	if strings.Contains(m.ID, ".") {
		errs = append(errs, FieldError{Field: "id", Message: "pipe id must not contain '.'"})
	}
	if m.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "pipe name is required"})
	}
	if m.Version == "" {
		errs = append(errs, FieldError{Field: "version", Message: "version is required"})
	} else if !semverRegex.MatchString(m.Version) {
		errs = append(errs, FieldError{Field: "version", Message: fmt.Sprintf("invalid semver format: %s", m.Version)})
	}
	if m.Format == "" {
		errs = append(errs, FieldError{Field: "format", Message: "format is required"})
	}
	if m.Path == "" {
		errs = append(errs, FieldError{Field: "path", Message: "artifact path is required"})
	}

	return errs
}

// LoadManifest reads and parses a manifest file. The manifest's Path is
// resolved relative to the manifest's own directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if m.Path != "" && !filepath.IsAbs(m.Path) {
		m.Path = filepath.Join(filepath.Dir(path), m.Path)
	}
	return m, nil
}

// Discover walks dir for pipe.yaml manifests. A missing directory
// yields an empty result, not an error; unreadable manifests are
// returned as errors alongside the ones that parsed.
func Discover(dir string) ([]Manifest, []error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var manifests []Manifest
	var errs []error

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestFileName {
			return nil
		}

		m, err := LoadManifest(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		manifests = append(manifests, m)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("failed to walk pipe directory %s: %w", dir, walkErr))
	}

	return manifests, errs
}
