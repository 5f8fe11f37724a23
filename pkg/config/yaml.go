package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

// DurationWrapper is a wrapper for time.Duration that implements encoding.TextMarshaler and encoding.TextUnmarshaler
// needed for YAML marshalling/unmarshalling especially for time.Duration
type DurationWrapper struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler to format the duration as text
func (d DurationWrapper) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler to parse the duration from text
func (d *DurationWrapper) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// SaveAsYaml saves the current configuration to a YAML file, annotating every
// field with its comment tag.
func (c *Config) SaveAsYaml() error {
	configPath := c.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("could not create directory %q: %w", filepath.Dir(configPath), err)
	}

	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	addComments(&root, reflect.TypeOf(*c))

	data, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Batcher configuration file\n\n")
	return os.WriteFile(configPath, append(header, data...), 0o600)
}

// addComments walks a mapping node alongside the struct type that produced it
// and copies comment tags onto the keys.
func addComments(node *yaml.Node, t reflect.Type) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if node.Kind != yaml.MappingNode || t.Kind() != reflect.Struct {
		return
	}

	fields := make(map[string]reflect.StructField, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if name := yamlName(f); name != "" {
			fields[name] = f
		}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		f, ok := fields[key.Value]
		if !ok {
			continue
		}
		if comment := f.Tag.Get("comment"); comment != "" {
			key.HeadComment = comment
		}
		if f.Type != reflect.TypeFor[DurationWrapper]() {
			addComments(value, f.Type)
		}
	}
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "-" {
		return ""
	}
	for i := range len(tag) {
		if tag[i] == ',' {
			tag = tag[:i]
			break
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
