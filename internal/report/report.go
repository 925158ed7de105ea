// Package report persists probe outcomes.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hidim/TunnelPanda/internal/fileutil"
	"github.com/hidim/TunnelPanda/pkg/types"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from the file extension; JSON unless the
// path ends in .yaml or .yml.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func Marshal(rep types.ProbeReport, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("encode yaml report: %w", err)
		}
		return data, nil
	case FormatJSON, "":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json report: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// Encode writes rep to w in the given format.
func Encode(w io.Writer, rep types.ProbeReport, format Format) error {
	data, err := Marshal(rep, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Write atomically replaces path with rep. Reports carry redacted headers
// only, but are still written owner-readable.
func Write(path string, rep types.ProbeReport) error {
	data, err := Marshal(rep, FormatFor(path))
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write report %q: %w", path, err)
	}
	return nil
}
