// Package classify maps provider work items onto the shared WorkItemKind taxonomy.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wesm/work-inbox/internal/models"
)

// Method names the signal that decided a classification
type Method string

const (
	MethodTypeName Method = "typeNameMap"
	MethodLabel    Method = "labelPattern"
	MethodTitle    Method = "titlePattern"
	MethodDefault  Method = "default"
)

const (
	typeNameScore     = 100
	labelBaseScore    = 85
	titleBaseScore    = 60
	defaultConfidence = 0.3
)

// Input carries the signals available for one work item
type Input struct {
	TypeName string
	Labels   []string
	Title    string
}

// Result is the outcome of Classify
type Result struct {
	Kind       models.WorkItemKind
	Confidence float64
	Method     Method
	Details    string
}

// TypeName maps a lower-cased provider type name to a kind
type TypeName struct {
	Name string
	Kind models.WorkItemKind
}

// Rule matches a label or title against a case-insensitive pattern
type Rule struct {
	Pattern  *regexp.Regexp
	Kind     models.WorkItemKind
	Priority int
}

// NewRule compiles pattern case-insensitively. It panics on invalid patterns.
func NewRule(pattern string, kind models.WorkItemKind, priority int) Rule {
	return Rule{
		Pattern:  regexp.MustCompile("(?i)" + pattern),
		Kind:     kind,
		Priority: priority,
	}
}

// Mapping is the provider-specific classification table
type Mapping struct {
	typeNames   []TypeName
	index       map[string]models.WorkItemKind
	labelRules  []Rule
	titleRules  []Rule
	defaultKind models.WorkItemKind
}

// NewMapping builds an immutable mapping. Type names are matched in the given order
// when falling back to substring matching.
func NewMapping(typeNames []TypeName, labelRules, titleRules []Rule, defaultKind models.WorkItemKind) *Mapping {
	m := &Mapping{
		typeNames:   make([]TypeName, 0, len(typeNames)),
		index:       make(map[string]models.WorkItemKind, len(typeNames)),
		labelRules:  append([]Rule(nil), labelRules...),
		titleRules:  append([]Rule(nil), titleRules...),
		defaultKind: defaultKind,
	}
	for _, tn := range typeNames {
		name := normalize(tn.Name)
		if name == "" {
			continue
		}
		if _, exists := m.index[name]; exists {
			continue
		}
		m.index[name] = tn.Kind
		m.typeNames = append(m.typeNames, TypeName{Name: name, Kind: tn.Kind})
	}
	return m
}

// DefaultKind returns the kind used when no signal matches
func (m *Mapping) DefaultKind() models.WorkItemKind {
	return m.defaultKind
}

type candidate struct {
	kind    models.WorkItemKind
	score   int
	method  Method
	details string
}

// Classify picks the best kind for in. It never fails: without signals it returns the
// mapping's default kind.
func Classify(in Input, m *Mapping) Result {
	var candidates []candidate

	if name := normalize(in.TypeName); name != "" {
		if kind, ok := m.lookupTypeName(name); ok {
			candidates = append(candidates, candidate{
				kind:    kind,
				score:   typeNameScore,
				method:  MethodTypeName,
				details: fmt.Sprintf("type name %q", in.TypeName),
			})
		}
	}

	if len(in.Labels) > 0 {
		var best *Rule
		var bestLabel string
		for _, label := range in.Labels {
			if rule := bestRule(m.labelRules, label, best); rule != best {
				best = rule
				bestLabel = label
			}
		}
		if best != nil {
			candidates = append(candidates, candidate{
				kind:    best.Kind,
				score:   labelBaseScore + best.Priority,
				method:  MethodLabel,
				details: fmt.Sprintf("label %q matched %s", bestLabel, best.Pattern),
			})
		}
	}

	if in.Title != "" {
		if best := bestRule(m.titleRules, in.Title, nil); best != nil {
			candidates = append(candidates, candidate{
				kind:    best.Kind,
				score:   titleBaseScore + best.Priority,
				method:  MethodTitle,
				details: fmt.Sprintf("title matched %s", best.Pattern),
			})
		}
	}

	if len(candidates) == 0 {
		return Result{
			Kind:       m.defaultKind,
			Confidence: defaultConfidence,
			Method:     MethodDefault,
			Details:    "no matching signal",
		}
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > winner.score {
			winner = c
		}
	}

	confidence := float64(winner.score) / 100
	if confidence > 1 {
		confidence = 1
	}
	return Result{
		Kind:       winner.kind,
		Confidence: confidence,
		Method:     winner.method,
		Details:    winner.details,
	}
}

func (m *Mapping) lookupTypeName(name string) (models.WorkItemKind, bool) {
	if kind, ok := m.index[name]; ok {
		return kind, true
	}
	for _, tn := range m.typeNames {
		if strings.Contains(name, tn.Name) || strings.Contains(tn.Name, name) {
			return tn.Kind, true
		}
	}
	return "", false
}

// bestRule returns the highest-priority rule matching text, starting from current.
// Only a strictly higher priority replaces current.
func bestRule(rules []Rule, text string, current *Rule) *Rule {
	best := current
	for i := range rules {
		rule := &rules[i]
		if !rule.Pattern.MatchString(text) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	return best
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
