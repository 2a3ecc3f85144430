package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrReadOnly   = errors.New("rule source is read-only")
	ErrNoRevision = errors.New("no rule revision stored")
)

// Source loads and persists rule documents.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// RevisionStore keeps rule document revisions. The latest revision wins.
type RevisionStore interface {
	SaveRuleRevision(ctx context.Context, body []byte, fingerprint string) error
	LatestRuleRevision(ctx context.Context) ([]byte, error)
}

type embeddedSource struct{}

func EmbeddedSource() Source {
	return embeddedSource{}
}

func (embeddedSource) Name() string { return "embedded" }

func (embeddedSource) Load(context.Context) (*Document, error) {
	return Parse(defaultDocument)
}

func (embeddedSource) Save(context.Context, *Document) error {
	return ErrReadOnly
}

type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file:" + s.path }

func (s *FileSource) Load(context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, nil
}

// Save writes the document atomically, as JSON for .json paths and YAML
// otherwise.
func (s *FileSource) Save(_ context.Context, doc *Document) error {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(s.path), ".json") {
		format = "json"
	}
	data, err := Marshal(doc, format)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

type StoreSource struct {
	store RevisionStore
}

func NewStoreSource(store RevisionStore) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Name() string { return "db" }

// Load returns the latest stored revision. An empty store is seeded with
// the built-in document.
func (s *StoreSource) Load(ctx context.Context) (*Document, error) {
	body, err := s.store.LatestRuleRevision(ctx)
	if errors.Is(err, ErrNoRevision) {
		doc := Default()
		if err := s.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("seed rules: %w", err)
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return Parse(body)
}

func (s *StoreSource) Save(ctx context.Context, doc *Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	body, err := Marshal(doc, "json")
	if err != nil {
		return err
	}
	return s.store.SaveRuleRevision(ctx, body, Fingerprint(doc))
}
