package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// Script is the parsed form of a strategy submission. The rule language is
// deliberately narrow: module imports, numeric parameters, and named rule
// expressions over a fixed indicator vocabulary.
//
//	use ta
//	param fast = 10
//	param slow = 30
//	entry: crossover(fast, slow)
//	exit: rsi(14) > 70
//	size: 0.9
type Script struct {
	Uses   []string
	Params map[string]float64
	Rules  map[string]string
	// RuleOrder preserves declaration order for deterministic diagnostics
	RuleOrder []string
}

// Recognized rule names. At least one of entry/exit/on_bar must exist for
// a submission to have an eligible strategy shape.
const (
	RuleEntry = "entry"
	RuleExit  = "exit"
	RuleOnBar = "on_bar"
	RuleSize  = "size"
)

var shapeRules = map[string]bool{
	RuleEntry: true,
	RuleExit:  true,
	RuleOnBar: true,
}

var knownRules = map[string]bool{
	RuleEntry: true,
	RuleExit:  true,
	RuleOnBar: true,
	RuleSize:  true,
}

// ParseScript parses a strategy submission without evaluating anything
func ParseScript(source string) (*Script, error) {
	s := &Script{
		Params: make(map[string]float64),
		Rules:  make(map[string]string),
	}

	for lineNo, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "use "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "use "))
			if name == "" || strings.ContainsAny(name, " \t") {
				return nil, fmt.Errorf("line %d: malformed use declaration", lineNo+1)
			}
			s.Uses = append(s.Uses, name)

		case strings.HasPrefix(line, "param "):
			rest := strings.TrimPrefix(line, "param ")
			parts := strings.SplitN(rest, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("line %d: malformed param declaration", lineNo+1)
			}
			name := strings.TrimSpace(parts[0])
			val, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: param %q is not numeric", lineNo+1, name)
			}
			if name == "" {
				return nil, fmt.Errorf("line %d: param has no name", lineNo+1)
			}
			s.Params[name] = val

		default:
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("line %d: expected a rule of the form name: expression", lineNo+1)
			}
			name := strings.TrimSpace(parts[0])
			body := strings.TrimSpace(parts[1])
			if name == "" || body == "" {
				return nil, fmt.Errorf("line %d: empty rule name or body", lineNo+1)
			}
			if _, dup := s.Rules[name]; dup {
				return nil, fmt.Errorf("line %d: duplicate rule %q", lineNo+1, name)
			}
			s.Rules[name] = body
			s.RuleOrder = append(s.RuleOrder, name)
		}
	}

	return s, nil
}

// HasShapeRule reports whether at least one recognized strategy-shape rule
// exists in the script.
func (s *Script) HasShapeRule() bool {
	for name := range s.Rules {
		if shapeRules[name] {
			return true
		}
	}
	return false
}
