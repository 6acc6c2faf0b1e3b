// Package prompt keeps versioned prompt templates for the reasoning step.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Prompt represents a versioned prompt template.
type Prompt struct {
	Name    string
	Version int
	Body    string
	Meta    map[string]string
}

// Issue describes a lint finding.
type Issue struct {
	Rule    string
	Message string
}

var secretMarkers = []string{"aws_secret_access_key", "begin private key", "sk-"}

// Lint runs basic checks on prompts.
func Lint(p Prompt) []Issue {
	var issues []Issue
	if p.Name == "" {
		issues = append(issues, Issue{Rule: "name.required", Message: "name is required"})
	}
	if strings.TrimSpace(p.Body) == "" {
		issues = append(issues, Issue{Rule: "body.required", Message: "body is empty"})
	}
	lower := strings.ToLower(p.Body)
	for _, m := range secretMarkers {
		if strings.Contains(lower, m) {
			issues = append(issues, Issue{Rule: "security.secrets", Message: "body appears to contain secrets-like content"})
			break
		}
	}
	if _, err := template.New(p.Name).Option("missingkey=zero").Parse(p.Body); err != nil {
		issues = append(issues, Issue{Rule: "template.parse", Message: err.Error()})
	}
	return issues
}

// Store is an in-memory versioned prompt store. Templates are parsed once
// per version.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]Prompt // name -> versions (ascending)
	parsed map[string]*template.Template
}

func NewStore() *Store {
	return &Store{data: make(map[string][]Prompt), parsed: make(map[string]*template.Template)}
}

var (
	ErrLintFailed = errors.New("prompt failed lint checks")
	ErrNotFound   = errors.New("prompt not found")
)

// Save adds a new version. If name exists, version increments by 1; otherwise starts at 1.
// Lint failures return ErrLintFailed with the issues.
func (s *Store) Save(p Prompt) (Prompt, []Issue, error) {
	issues := Lint(p)
	if len(issues) > 0 {
		return Prompt{}, issues, ErrLintFailed
	}
	tpl := template.Must(template.New(p.Name).Option("missingkey=zero").Parse(p.Body))
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[p.Name]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}
	np := Prompt{Name: p.Name, Version: next, Body: p.Body, Meta: p.Meta}
	s.data[p.Name] = append(versions, np)
	s.parsed[versionKey(p.Name, next)] = tpl
	return np, nil, nil
}

func versionKey(name string, v int) string { return fmt.Sprintf("%s@%d", name, v) }

// Get retrieves a specific version; version <= 0 returns the latest.
func (s *Store) Get(name string, version int) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(name, version)
}

func (s *Store) getLocked(name string, version int) (Prompt, bool) {
	versions := s.data[name]
	if len(versions) == 0 {
		return Prompt{}, false
	}
	if version <= 0 {
		return versions[len(versions)-1], true
	}
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
	if i < len(versions) && versions[i].Version == version {
		return versions[i], true
	}
	return Prompt{}, false
}

// List returns all versions for a name in ascending order.
func (s *Store) List(name string) []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Prompt(nil), s.data[name]...)
}

// Render executes the latest version of the first name that exists.
func (s *Store) Render(data any, names ...string) (string, error) {
	s.mu.RLock()
	var tpl *template.Template
	for _, n := range names {
		if p, ok := s.getLocked(n, 0); ok {
			tpl = s.parsed[versionKey(p.Name, p.Version)]
			break
		}
	}
	s.mu.RUnlock()
	if tpl == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, strings.Join(names, ", "))
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
