package kb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/Lightming99/RaSa-Metaconverse/internal/atomicfile"
)

// FileMode is the permission of knowledge-base files.
const FileMode os.FileMode = 0644

// WriteFunc persists one file.
type WriteFunc func(path string, data []byte, perm os.FileMode) error

// WriteError reports the section whose write failed and the sections that
// had already been written.
type WriteError struct {
	Section Section
	Written []Section
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("kb: write %s: %v", e.Section, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store reads and writes the knowledge base under a root directory.
type Store struct {
	root    string
	write   WriteFunc
	onWrite func(path string)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithWriteFunc replaces the atomic file writer.
func WithWriteFunc(fn WriteFunc) StoreOption {
	return func(s *Store) { s.write = fn }
}

// WithWriteHook registers a callback invoked with the absolute path of every
// file the store is about to write.
func WithWriteHook(fn func(path string)) StoreOption {
	return func(s *Store) { s.onWrite = fn }
}

// NewStore returns a store rooted at root.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{root: root, write: atomicfile.WriteFile}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the knowledge-base root directory.
func (s *Store) Root() string { return s.root }

// Path returns the absolute path of a section file.
func (s *Store) Path(sec Section) string {
	return filepath.Join(s.root, filepath.FromSlash(sec.RelPath()))
}

// Paths returns every section file path in write order.
func (s *Store) Paths() []string {
	out := make([]string, len(Sections))
	for i, sec := range Sections {
		out[i] = s.Path(sec)
	}
	return out
}

// Snapshot loads a fresh copy of all four documents, reading the files in
// parallel. Missing files load as empty documents.
func (s *Store) Snapshot(ctx context.Context) (*KnowledgeBase, error) {
	kb, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	kb.setVersions()
	return kb, nil
}

// loadAll decodes each section into its own document concurrently and
// assembles the result.
func (s *Store) loadAll(ctx context.Context) (*KnowledgeBase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make(map[Section]*KnowledgeBase, len(Sections))
	for _, sec := range Sections {
		docs[sec] = &KnowledgeBase{}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, sec := range Sections {
		part := docs[sec]
		g.Go(func() error {
			return s.load(part, sec)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &KnowledgeBase{
		NLU:     docs[SectionNLU].NLU,
		Domain:  docs[SectionDomain].Domain,
		Stories: docs[SectionStories].Stories,
		Rules:   docs[SectionRules].Rules,
	}, nil
}

func (s *Store) load(kb *KnowledgeBase, sec Section) error {
	data, err := os.ReadFile(s.Path(sec))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kb: read %s: %w", sec, err)
	}
	if err := kb.decode(sec, data); err != nil {
		return fmt.Errorf("kb: parse %s: %w", sec.RelPath(), err)
	}
	return nil
}

// Write persists the given sections of kb one file at a time in section
// order. It stops at the first failure and returns a *WriteError.
func (s *Store) Write(ctx context.Context, kb *KnowledgeBase, sections []Section) error {
	var written []Section
	for _, sec := range orderSections(sections) {
		if err := ctx.Err(); err != nil {
			return &WriteError{Section: sec, Written: written, Err: err}
		}
		data, err := kb.Encode(sec)
		if err != nil {
			return &WriteError{Section: sec, Written: written, Err: err}
		}
		path := s.Path(sec)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return &WriteError{Section: sec, Written: written, Err: err}
		}
		if s.onWrite != nil {
			s.onWrite(path)
		}
		if err := s.write(path, data, FileMode); err != nil {
			return &WriteError{Section: sec, Written: written, Err: err}
		}
		written = append(written, sec)
	}
	return nil
}

// Verify re-reads all four files from disk, parses them and checks
// integrity.
func (s *Store) Verify(ctx context.Context) error {
	kb, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	return kb.Validate()
}

func orderSections(in []Section) []Section {
	want := make(map[Section]bool, len(in))
	for _, sec := range in {
		want[sec] = true
	}
	var out []Section
	for _, sec := range Sections {
		if want[sec] {
			out = append(out, sec)
		}
	}
	return out
}
