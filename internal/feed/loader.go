// Package feed reads detector feeds and watches a directory for new ones.
//
// A feed is a JSON or YAML document holding either a list of problems or an
// object with a "problems" list:
//
//	[{"category": "LINT_FORMATTING", "message": "gofmt", "path": "a.go", "line": 3}]
//
//	problems:
//	  - category: TYPE_ERROR
//	    message: "cannot use x (type int) as string"
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// MaxFeedSize bounds a single feed document.
const MaxFeedSize = 32 << 20

// Format is a feed encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrFeedTooLarge  = errors.New("feed exceeds maximum size")
	ErrUnknownFormat = errors.New("unknown feed format")
	ErrMalformedFeed = errors.New("malformed feed")
)

type document struct {
	Problems []problem.RawProblem `json:"problems" yaml:"problems"`
}

// FormatFor picks the format from a file extension, falling back to
// sniffing the first non-space byte.
func FormatFor(path string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatJSON, nil
	}
	switch trimmed[0] {
	case '[', '{':
		return FormatJSON, nil
	}
	if bytes.Contains(trimmed, []byte(":")) || bytes.HasPrefix(trimmed, []byte("-")) {
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Parse decodes a feed document.
func Parse(data []byte, format Format) ([]problem.RawProblem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []problem.RawProblem{}, nil
	}

	var (
		list []problem.RawProblem
		doc  document
		err  error
	)
	switch format {
	case FormatJSON:
		if trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &list)
		} else {
			err = json.Unmarshal(trimmed, &doc)
			list = doc.Problems
		}
	case FormatYAML:
		var node yaml.Node
		if err = yaml.Unmarshal(trimmed, &node); err == nil && len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Decode(&list)
		} else if err == nil {
			err = node.Decode(&doc)
			list = doc.Problems
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if list == nil {
		list = []problem.RawProblem{}
	}
	return list, nil
}

// Read decodes a feed from r.
func Read(r io.Reader, name string) ([]problem.RawProblem, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFeedSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading feed %s: %w", name, err)
	}
	if len(data) > MaxFeedSize {
		return nil, fmt.Errorf("%w: %s", ErrFeedTooLarge, name)
	}
	format, err := FormatFor(name, data)
	if err != nil {
		return nil, err
	}
	return Parse(data, format)
}

// Load reads the feed file at path. "-" reads stdin.
func Load(path string) ([]problem.RawProblem, error) {
	if path == "-" {
		return Read(os.Stdin, "stdin")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening feed: %w", err)
	}
	defer f.Close()
	return Read(f, path)
}

// FileSource re-reads path for every phase, so a detector that rewrites the
// file between phases feeds fresh problems.
func FileSource(path string) orchestrator.FeedSource {
	return func(ctx context.Context, _ orchestrator.PhaseSpec) ([]problem.RawProblem, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Load(path)
	}
}

// DirSource reads {dir}/{phase}.json (or .yaml/.yml) when present and
// falls back to fallback otherwise.
func DirSource(dir, fallback string) orchestrator.FeedSource {
	return func(ctx context.Context, spec orchestrator.PhaseSpec) ([]problem.RawProblem, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			path := filepath.Join(dir, spec.Name+ext)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}
		if fallback == "" {
			return nil, fmt.Errorf("no feed for phase %s in %s", spec.Name, dir)
		}
		return Load(fallback)
	}
}
