// Package extractor derives session metadata from the on-disk formats of
// AI coding assistants without parsing whole transcripts.
package extractor

import (
	"errors"

	"sessionvault/internal/session"
)

// ErrNotSession reports that a candidate file is not a session of the
// extractor's format (malformed, wrong discriminator, unreadable).
// The registry turns it into "no session" and the scan continues.
var ErrNotSession = errors.New("not a session file")

// Kind classifies where a source lives.
type Kind string

const (
	KindIDE       Kind = "ide"
	KindExtension Kind = "extension"
)

// Context carries caller-supplied tags that are not derived from file content.
type Context struct {
	WorkspaceName string
	IDEOrigin     string
}

// Candidate is one file found under a source root, with its context.
type Candidate struct {
	Path    string
	Context Context
}

// Extractor handles one session file-format family.
type Extractor interface {
	// Source is the fixed tag written into every record this extractor yields.
	Source() string
	Kind() Kind
	// SupportedIDEs lists host IDEs for extension-kind sources.
	SupportedIDEs() []string
	// Extensions lists the file extensions (".json", ".jsonl") this extractor reads.
	Extensions() []string
	// DefaultRoots lists the storage roots scanned when config names none.
	DefaultRoots() []string
	// Discover lists candidate files under root. A missing root yields nothing.
	Discover(root string) ([]Candidate, error)
	// Extract reads the minimum of path needed to fill the metadata.
	Extract(path string, c Context) (session.Metadata, error)
}
