package policy

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed policies/*.yaml
var builtin embed.FS

var (
	// ErrUnknownNamespace is returned for namespaces without a document.
	ErrUnknownNamespace = errors.New("unknown namespace")
	// ErrNoMatch is returned by Route when nothing matches and no default is set.
	ErrNoMatch = errors.New("no namespace matches the question")
)

// AmbiguousError is returned by Route when several namespaces tie.
type AmbiguousError struct {
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("question matches several namespaces: %s", strings.Join(e.Candidates, ", "))
}

// Registry holds the policy documents by namespace.
type Registry struct {
	mu               sync.RWMutex
	docs             map[string]*Document
	defaultNamespace string
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultNamespace string) *Registry {
	return &Registry{
		docs:             make(map[string]*Document),
		defaultNamespace: defaultNamespace,
	}
}

// NewDefaultRegistry loads the built-in documents and then, if dir is not
// empty, every *.yaml file in dir (overriding built-ins by namespace).
func NewDefaultRegistry(defaultNamespace, dir string) (*Registry, error) {
	r := NewRegistry(defaultNamespace)
	if err := r.loadFS(builtin, "policies"); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := r.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, err
		}
	}
	if defaultNamespace != "" {
		if _, err := r.Get(defaultNamespace); err != nil {
			return nil, fmt.Errorf("default namespace %s: %w", defaultNamespace, err)
		}
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	paths, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.yaml")))
	if err != nil {
		return fmt.Errorf("failed to list policy documents: %w", err)
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", p, err)
		}
		doc, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		r.Register(doc)
	}
	return nil
}

// Register adds or replaces a document.
func (r *Registry) Register(doc *Document) {
	doc.compile()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.Namespace] = doc
}

// Get returns the document for namespace.
func (r *Registry) Get(namespace string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	return doc, nil
}

// Namespaces returns the registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.docs))
	for ns := range r.docs {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// DefaultNamespace returns the namespace used when routing finds no match.
func (r *Registry) DefaultNamespace() string {
	return r.defaultNamespace
}

var questionWord = regexp.MustCompile(`[a-z0-9_]+`)

// Route picks the namespace whose vocabulary overlaps the question most.
// Ties between the best scores return *AmbiguousError; a question with no
// overlap falls back to the default namespace.
func (r *Registry) Route(question string) (string, error) {
	words := questionWords(question)

	r.mu.RLock()
	scores := make(map[string]int, len(r.docs))
	for ns, doc := range r.docs {
		scores[ns] = scoreTerms(words, strings.ToLower(question), doc.Terms())
	}
	r.mu.RUnlock()

	best := 0
	var candidates []string
	for ns, score := range scores {
		switch {
		case score > best:
			best = score
			candidates = []string{ns}
		case score == best && score > 0:
			candidates = append(candidates, ns)
		}
	}

	if best == 0 {
		if r.defaultNamespace != "" {
			return r.defaultNamespace, nil
		}
		return "", ErrNoMatch
	}
	if len(candidates) > 1 {
		sort.Strings(candidates)
		return "", &AmbiguousError{Candidates: candidates}
	}
	return candidates[0], nil
}

func questionWords(question string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range questionWord.FindAllString(strings.ToLower(question), -1) {
		words[w] = true
	}
	return words
}

// scoreTerms counts terms present in the question. Multi-word terms match as phrases.
func scoreTerms(words map[string]bool, lowerQuestion string, terms []string) int {
	score := 0
	for _, term := range terms {
		if strings.Contains(term, " ") {
			if strings.Contains(lowerQuestion, term) {
				score++
			}
			continue
		}
		if words[term] {
			score++
		}
	}
	return score
}
