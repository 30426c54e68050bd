package dsl

import (
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
)

// allowedModules is the import allow-list: numeric, statistics, date-time,
// and the simulation framework's own indicator primitives.
var allowedModules = map[string]bool{
	"math":  true,
	"stats": true,
	"ta":    true,
	"time":  true,
}

// allowedVars is the curated per-bar and broker-state vocabulary
var allowedVars = map[string]bool{
	"open":        true,
	"high":        true,
	"low":         true,
	"close":       true,
	"volume":      true,
	"index":       true,
	"cash":        true,
	"equity":      true,
	"position":    true,
	"entry_price": true,
	"bars_held":   true,
}

// allowedFuncs is the indicator vocabulary exposed unqualified
var allowedFuncs = map[string]bool{
	"sma":        true,
	"ema":        true,
	"rsi":        true,
	"atr":        true,
	"stddev":     true,
	"highest":    true,
	"lowest":     true,
	"change":     true,
	"crossover":  true,
	"crossunder": true,
}

// allowedBuiltins are the expr builtins a rule may use
var allowedBuiltins = map[string]bool{
	"abs":   true,
	"min":   true,
	"max":   true,
	"ceil":  true,
	"floor": true,
	"round": true,
}

// deniedCalls covers dynamic code evaluation, environment introspection and
// file/process/OS access by name, regardless of whether the environment
// could resolve them.
var deniedCalls = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"import":     true,
	"__import__": true,
	"reflect":    true,
	"open":       true,
	"read":       true,
	"write":      true,
	"remove":     true,
	"spawn":      true,
	"system":     true,
	"popen":      true,
	"exit":       true,
	"env":        true,
	"getenv":     true,
	"setenv":     true,
	"panic":      true,
	"recover":    true,
	"go":         true,
	"syscall":    true,
	"unsafe":     true,
}

// deniedMembers covers dangerous internal-machinery attribute names
var deniedMembers = map[string]bool{
	"bytecode":    true,
	"globals":     true,
	"locals":      true,
	"builtins":    true,
	"class":       true,
	"mro":         true,
	"subclasses":  true,
	"frame":       true,
	"traceback":   true,
	"code":        true,
	"constructor": true,
	"prototype":   true,
}

// Validate statically inspects a strategy submission without executing it.
// It parses the script and every rule expression and rejects disallowed
// imports, deny-listed calls, dangerous attribute access, and identifiers
// outside the curated vocabulary. This is a pre-filter: the execution host
// re-checks imports and compiles against a restricted environment.
func Validate(source string) error {
	script, err := ParseScript(source)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidStrategy, "strategy script does not parse")
	}

	for _, use := range script.Uses {
		if !allowedModules[use] {
			return apperrors.Newf(apperrors.ErrCodeUnsafeCode, "import of module %q is not permitted", use)
		}
	}

	if !script.HasShapeRule() {
		return apperrors.New(apperrors.ErrCodeInvalidStrategy,
			"no recognized strategy rule found; declare at least one of entry, exit, on_bar", nil)
	}

	for _, name := range script.RuleOrder {
		if err := inspectRule(name, script.Rules[name], script.Params); err != nil {
			return err
		}
	}
	return nil
}

func inspectRule(name, src string, params map[string]float64) error {
	tree, err := parser.Parse(src)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidStrategy, "rule "+name+" does not parse").
			WithContext("rule", name)
	}

	v := &securityVisitor{rule: name, params: params}
	ast.Walk(&tree.Node, v)
	return v.err
}

// securityVisitor walks every node of a rule expression and records the
// first violation it sees.
type securityVisitor struct {
	rule   string
	params map[string]float64
	err    error
}

func (v *securityVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		// Call-position deny checks happen in the CallNode case; "open" is
		// a legitimate bar field but a denied call target.
		name := n.Value
		if allowedVars[name] || allowedFuncs[name] || allowedModules[name] {
			return
		}
		if _, ok := v.params[name]; ok {
			return
		}
		if deniedCalls[strings.ToLower(name)] {
			v.fail("use of %q is not permitted", name)
			return
		}
		v.fail("unknown identifier %q", name)

	case *ast.MemberNode:
		prop := propertyName(n.Property)
		if prop == "" {
			v.fail("computed attribute access is not permitted")
			return
		}
		if deniedMembers[strings.ToLower(strings.Trim(prop, "_"))] {
			v.fail("access to attribute %q is not permitted", prop)
		}

	case *ast.CallNode:
		switch callee := n.Callee.(type) {
		case *ast.IdentifierNode:
			if deniedCalls[strings.ToLower(callee.Value)] {
				v.fail("call to %q is not permitted", callee.Value)
			}
		case *ast.MemberNode:
			// Module-qualified calls are checked by the MemberNode and
			// IdentifierNode cases as the walk descends.
		default:
			v.fail("computed call targets are not permitted")
		}

	case *ast.BuiltinNode:
		if !allowedBuiltins[n.Name] {
			v.fail("builtin %q is not permitted", n.Name)
		}

	case *ast.PredicateNode, *ast.PointerNode:
		v.fail("closures are not permitted in strategy rules")
	}
}

func (v *securityVisitor) fail(format string, args ...interface{}) {
	v.err = apperrors.Newf(apperrors.ErrCodeUnsafeCode, format, args...).WithContext("rule", v.rule)
}

func propertyName(node ast.Node) string {
	switch p := node.(type) {
	case *ast.StringNode:
		return p.Value
	case *ast.IdentifierNode:
		return p.Value
	default:
		return ""
	}
}
