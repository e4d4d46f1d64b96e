// Package casestore loads and validates case and prompt definitions from disk.
package casestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cognitive-blackbox/internal/domain"
)

// ErrCaseNotFound is returned for an unknown case id.
var ErrCaseNotFound = errors.New("casestore: case not found")

// Store holds the validated definitions. It is read-only after construction.
type Store struct {
	cases   map[string]domain.CaseDefinition
	invalid map[string]error
	prompts map[domain.Role]domain.PromptDefinition
}

// New builds a Store from already-decoded definitions.
func New(cases []domain.CaseDefinition, prompts []domain.PromptDefinition) *Store {
	s := &Store{
		cases:   make(map[string]domain.CaseDefinition, len(cases)),
		invalid: map[string]error{},
		prompts: make(map[domain.Role]domain.PromptDefinition, len(prompts)),
	}
	for _, c := range cases {
		s.cases[c.Metadata.CaseID] = c
	}
	for _, p := range prompts {
		s.prompts[p.RoleID] = p
	}
	return s
}

// Load reads every case file in casesDir and every prompt file in promptsDir.
// An empty promptsDir skips prompts. Invalid cases are kept aside so that
// looking them up reports the validation problems.
func Load(casesDir, promptsDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := New(nil, nil)

	files, err := definitionFiles(casesDir)
	if err != nil {
		return nil, fmt.Errorf("casestore: Load cases: %w", err)
	}
	for _, path := range files {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		c, err := LoadCaseFile(path)
		if err != nil {
			logger.Error("invalid case definition", "case", id, "path", path, "err", err)
			s.invalid[id] = err
			continue
		}
		s.cases[c.Metadata.CaseID] = c
	}

	if strings.TrimSpace(promptsDir) == "" {
		return s, nil
	}
	files, err = definitionFiles(promptsDir)
	if err != nil {
		return nil, fmt.Errorf("casestore: Load prompts: %w", err)
	}
	for _, path := range files {
		p, err := LoadPromptFile(path)
		if err != nil {
			logger.Error("invalid prompt definition", "path", path, "err", err)
			continue
		}
		s.prompts[p.RoleID] = p
	}
	return s, nil
}

// LoadCaseFile decodes and validates one case file.
func LoadCaseFile(path string) (domain.CaseDefinition, error) {
	raw, err := readDocument(path)
	if err != nil {
		return domain.CaseDefinition{}, err
	}
	if err := ValidateCase(raw); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Source = filepath.Base(path)
		}
		return domain.CaseDefinition{}, err
	}
	var c domain.CaseDefinition
	if err := convert(raw, &c); err != nil {
		return domain.CaseDefinition{}, fmt.Errorf("casestore: decode case %s: %w", path, err)
	}
	return c, nil
}

// LoadPromptFile decodes and validates one prompt file.
func LoadPromptFile(path string) (domain.PromptDefinition, error) {
	raw, err := readDocument(path)
	if err != nil {
		return domain.PromptDefinition{}, err
	}
	if err := ValidatePrompt(raw); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Source = filepath.Base(path)
		}
		return domain.PromptDefinition{}, err
	}
	var p domain.PromptDefinition
	if err := convert(raw, &p); err != nil {
		return domain.PromptDefinition{}, fmt.Errorf("casestore: decode prompt %s: %w", path, err)
	}
	return p, nil
}

// Case returns the case with the given id. A case that failed validation
// returns its *ValidationError.
func (s *Store) Case(id string) (domain.CaseDefinition, error) {
	id = strings.TrimSpace(id)
	if c, ok := s.cases[id]; ok {
		return c, nil
	}
	if err, ok := s.invalid[id]; ok {
		return domain.CaseDefinition{}, err
	}
	return domain.CaseDefinition{}, fmt.Errorf("%w: %q", ErrCaseNotFound, id)
}

// IDs lists the valid case ids in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.cases))
	for id := range s.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prompt returns the prompt definition for role, if one was loaded.
func (s *Store) Prompt(role domain.Role) (domain.PromptDefinition, bool) {
	p, ok := s.prompts[role]
	return p, ok
}

func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func readDocument(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("casestore: read %s: %w", path, err)
	}
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &raw)
	default:
		err = json.Unmarshal(b, &raw)
	}
	if err != nil {
		return nil, &ValidationError{
			Source:   filepath.Base(path),
			Problems: []Problem{{Message: fmt.Sprintf("malformed document: %v", err)}},
		}
	}
	return raw, nil
}

// convert re-encodes a validated raw document into its typed form.
func convert(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
