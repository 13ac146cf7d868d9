// Package actions loads action manifests (action.yml) and normalizes
// them into executable step definitions.
package actions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var ErrNoManifest = errors.New("no action.yml or action.yaml manifest found")

// Manifest is a parsed action.yml.
type Manifest struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Author      string                `yaml:"author"`
	Inputs      map[string]InputSpec  `yaml:"inputs"`
	Outputs     map[string]OutputSpec `yaml:"outputs"`
	Runs        RunsSpec              `yaml:"runs"`
}

type InputSpec struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
}

type OutputSpec struct {
	Description string `yaml:"description"`
	Value       string `yaml:"value"`
}

// RunsSpec is the runs: section. Using selects the execution kind.
type RunsSpec struct {
	Using      string            `yaml:"using"`
	Main       string            `yaml:"main"`
	Pre        string            `yaml:"pre"`
	Post       string            `yaml:"post"`
	Image      string            `yaml:"image"`
	Entrypoint string            `yaml:"entrypoint"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Steps      []ManifestStep    `yaml:"steps"`
}

// ManifestStep is one step of a composite action body.
type ManifestStep struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	If              string            `yaml:"if"`
	Uses            string            `yaml:"uses"`
	Run             string            `yaml:"run"`
	Shell           string            `yaml:"shell"`
	With            map[string]string `yaml:"with"`
	Env             map[string]string `yaml:"env"`
	ContinueOnError bool              `yaml:"continue-on-error"`
}

// LoadManifest reads action.yml (or action.yaml) from dir.
func LoadManifest(dir string) (*Manifest, error) {
	var path string
	for _, candidate := range []string{"action.yml", "action.yaml"} {
		p := filepath.Join(dir, candidate)
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}

	if path == "" {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{}
	if err := yaml.Unmarshal(b, manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if manifest.Runs.Using == "" {
		return nil, fmt.Errorf("manifest %s has no runs.using", path)
	}

	return manifest, nil
}
