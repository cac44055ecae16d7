package tables

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of both desired-state tables.
type Document struct {
	EndPoints []EndPointSpec `toml:"endpoint" yaml:"endpoints"`
	ConnectTo []ConnectSpec  `toml:"connect" yaml:"connect"`
}

// Format names a tables file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func LoadFile(path string) (Document, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("tables load failed (%s): %w", path, err)
	}
	doc, err := Decode(format, data)
	if err != nil {
		return Document{}, fmt.Errorf("tables parse failed (%s): %w", path, err)
	}
	return doc, nil
}

func Decode(format Format, data []byte) (Document, error) {
	var doc Document
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return Document{}, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Document{}, err
		}
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return doc, nil
}

func Encode(format Format, doc Document) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(doc)
	case FormatYAML:
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile replaces path atomically with the encoded document.
func WriteFile(path string, doc Document) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(format, doc)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
