// Package manifest loads desired-state manifests from YAML. Manifest values
// may reference environment variables with ${VAR} placeholders; the resolved
// values are treated as secrets, reaching provider calls only and never the
// hash or the recorded state, which see the literal placeholder text.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Version is the manifest schema version this loader understands.
const Version = 1

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Manifest is the on-disk desired-state document.
type Manifest struct {
	Version   int        `yaml:"version"`
	Resources []Resource `yaml:"resources"`
}

// Resource is one desired resource entry in a manifest.
type Resource struct {
	ID         string                 `yaml:"id"`
	Kind       string                 `yaml:"kind"`
	DependsOn  []string               `yaml:"depends_on"`
	Attributes map[string]interface{} `yaml:"attributes"`
}

// Load reads and parses the manifest at path and returns the desired state.
func Load(path string) (*engine.DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewSpecError(
			fmt.Sprintf("failed to read manifest %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}
	return Parse(data)
}

// Parse parses manifest bytes into a desired state. Unknown fields, schema
// violations, duplicate ids, and unresolvable ${VAR} placeholders are spec
// errors.
func Parse(data []byte) (*engine.DesiredState, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, engine.NewSpecError("failed to parse manifest", err).
			WithCode(engine.ErrCodeValidation)
	}

	if m.Version != Version {
		return nil, engine.NewSpecError(
			fmt.Sprintf("unsupported manifest version %d (expected %d)", m.Version, Version), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if len(m.Resources) == 0 {
		return nil, engine.NewSpecError("manifest declares no resources", nil).
			WithCode(engine.ErrCodeValidation)
	}

	desired := &engine.DesiredState{
		Resources: make([]engine.ResourceSpec, 0, len(m.Resources)),
	}
	seen := make(map[string]bool, len(m.Resources))

	for i, r := range m.Resources {
		if r.ID == "" {
			return nil, engine.NewSpecError(
				fmt.Sprintf("resource at index %d has no id", i), nil).
				WithCode(engine.ErrCodeValidation)
		}
		if seen[r.ID] {
			return nil, engine.NewSpecError(
				fmt.Sprintf("duplicate resource id %q", r.ID), nil).
				WithCode(engine.ErrCodeDuplicateID).WithResource(r.ID)
		}
		seen[r.ID] = true

		attrs, secrets, err := splitSecrets(r.Attributes)
		if err != nil {
			return nil, err.WithResource(r.ID)
		}

		spec := engine.ResourceSpec{
			ID:               r.ID,
			Kind:             engine.ResourceKind(r.Kind),
			Attributes:       attrs,
			SecretAttributes: secrets,
			DependsOn:        r.DependsOn,
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		desired.Resources = append(desired.Resources, spec)
	}

	return desired, nil
}

// splitSecrets resolves ${VAR} placeholders from the environment. Attributes
// keep the literal placeholder text, so hashing and the recorded state see
// edits to the non-secret parts of a value while the resolved secret never
// leaves the process; the resolved copy goes into SecretAttributes, which the
// executor layers on top for provider calls only. A missing variable fails
// the whole load: a partially-resolved manifest must never reach the planner.
func splitSecrets(raw map[string]interface{}) (engine.Attributes, engine.Attributes, *engine.Error) {
	attrs := make(engine.Attributes, len(raw))
	var secrets engine.Attributes

	for key, value := range raw {
		resolved, hadPlaceholder, err := interpolate(value)
		if err != nil {
			return nil, nil, err
		}
		attrs[key] = value
		if hadPlaceholder {
			if secrets == nil {
				secrets = make(engine.Attributes)
			}
			secrets[key] = resolved
		}
	}
	return attrs, secrets, nil
}

// interpolate resolves ${VAR} placeholders in a value, recursing into nested
// maps and slices. It reports whether any placeholder was found.
func interpolate(value interface{}) (interface{}, bool, *engine.Error) {
	switch v := value.(type) {
	case string:
		if !placeholderRe.MatchString(v) {
			return v, false, nil
		}
		var missing string
		out := placeholderRe.ReplaceAllStringFunc(v, func(match string) string {
			name := placeholderRe.FindStringSubmatch(match)[1]
			val, ok := os.LookupEnv(name)
			if !ok && missing == "" {
				missing = name
			}
			return val
		})
		if missing != "" {
			return nil, true, engine.NewSpecError(
				fmt.Sprintf("environment variable %s is not set", missing), nil).
				WithCode(engine.ErrCodeValidation)
		}
		return out, true, nil

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		had := false
		for k, nested := range v {
			resolved, h, err := interpolate(nested)
			if err != nil {
				return nil, false, err
			}
			out[k] = resolved
			had = had || h
		}
		return out, had, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		had := false
		for i, nested := range v {
			resolved, h, err := interpolate(nested)
			if err != nil {
				return nil, false, err
			}
			out[i] = resolved
			had = had || h
		}
		return out, had, nil

	default:
		return value, false, nil
	}
}
