// Package matcher evaluates the recursive Matcher predicate tree against
// a request snapshot. Evaluation is pure and must not suspend; script
// variants are delegated through the ScriptEvaluator seam so this package
// never imports the scripting runtime directly.
package matcher

import (
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/resourceref"
	"github.com/apate/engine/internal/apate/snapshot"
)

// ScriptEvaluator lets And/Or/leaf evaluation call into the script
// runtime for Rhai/RhaiRef predicates without a direct package import.
type ScriptEvaluator interface {
	// EvalInlinePredicate compiles (or reuses a cached compile of) the
	// script at ref and runs it as a predicate against snap.
	EvalInlinePredicate(ref resourceref.Ref, source string, snap snapshot.RequestSnapshot) (bool, error)
	// EvalNamedPredicate runs the named top-level script as a predicate.
	EvalNamedPredicate(id string, args []string, snap snapshot.RequestSnapshot) (bool, error)
}

// ScriptErrorRecorder observes script runtime failures encountered during
// evaluation, labeled by stage ("matcher"). May be nil.
type ScriptErrorRecorder interface {
	RecordScriptError(stage string)
}

// Evaluate runs the matcher tree rooted at m against snap. ref identifies
// m's own tree position, used as the cache key for inline scripts
// encountered within it. Errors are absorbed: a script runtime error or
// malformed JSON is logged and treated as a false result, per §4.1/§4.2's
// matcher-soft failure policy. metrics may be nil.
func Evaluate(m apatetypes.Matcher, ref resourceref.Ref, snap snapshot.RequestSnapshot, scripts ScriptEvaluator, metrics ScriptErrorRecorder, log *zap.Logger) bool {
	result := evalRaw(m, ref, snap, scripts, metrics, log)
	if m.Negate && m.Type != apatetypes.MatcherAnd && m.Type != apatetypes.MatcherOr {
		return !result
	}
	return result
}

func evalRaw(m apatetypes.Matcher, ref resourceref.Ref, snap snapshot.RequestSnapshot, scripts ScriptEvaluator, metrics ScriptErrorRecorder, log *zap.Logger) bool {
	switch m.Type {
	case apatetypes.MatcherAnd:
		for i, child := range m.Matchers {
			if !Evaluate(child, ref.Child(i), snap, scripts, metrics, log) {
				return false
			}
		}
		return true

	case apatetypes.MatcherOr:
		for i, child := range m.Matchers {
			if Evaluate(child, ref.Child(i), snap, scripts, metrics, log) {
				return true
			}
		}
		return false

	case apatetypes.MatcherMethod:
		return matchMethod(m.Eq, snap)

	case apatetypes.MatcherHeader:
		return matchHeader(m.Key, m.Value, snap)

	case apatetypes.MatcherQuery:
		return matchQueryArg(m.Name, m.Value, snap)

	case apatetypes.MatcherPath:
		return matchPathArg(m.Name, m.Value, snap)

	case apatetypes.MatcherJSON:
		return matchJSON(m.Path, m.Eq, snap, log)

	case apatetypes.MatcherRhai:
		if scripts == nil {
			return false
		}
		ok, err := scripts.EvalInlinePredicate(ref, m.Script, snap)
		if err != nil {
			log.Warn("matcher script error", zap.String("ref", ref.Key()), zap.Error(err))
			if metrics != nil {
				metrics.RecordScriptError("matcher")
			}
			return false
		}
		return ok

	case apatetypes.MatcherRhaiRef:
		if scripts == nil {
			return false
		}
		ok, err := scripts.EvalNamedPredicate(m.ID, m.Args, snap)
		if err != nil {
			log.Warn("named matcher script error", zap.String("id", m.ID), zap.Error(err))
			if metrics != nil {
				metrics.RecordScriptError("matcher")
			}
			return false
		}
		return ok

	default:
		log.Warn("unknown matcher type", zap.String("type", string(m.Type)))
		return false
	}
}

// matchMethod deliberately preserves the source's substring-containment
// semantics: the uppercased configured value must CONTAIN the request
// method, not equal it, permitting union literals like "GET|POST"... POST
// while silently matching partial method strings too. See open question
// in DESIGN.md; kept bug-compatible with the original implementation.
func matchMethod(eq string, snap snapshot.RequestSnapshot) bool {
	return strings.Contains(strings.ToUpper(eq), snap.Method)
}

func matchHeader(key, value string, snap snapshot.RequestSnapshot) bool {
	v, ok := snap.Headers.Get(key)
	return ok && v == value
}

func matchQueryArg(name, value string, snap snapshot.RequestSnapshot) bool {
	v, ok := snap.QueryArgs[name]
	return ok && v == value
}

func matchPathArg(name, value string, snap snapshot.RequestSnapshot) bool {
	v, ok := snap.PathArgs[name]
	return ok && v == value
}

func matchJSON(path, eq string, snap snapshot.RequestSnapshot, log *zap.Logger) bool {
	body, err := snap.JSON()
	if err != nil {
		log.Warn("json matcher: request body is not valid json", zap.Error(err))
		return false
	}

	result, err := jsonpath.Get(path, body)
	if err != nil {
		log.Warn("json matcher: jsonpath query failed", zap.String("path", path), zap.Error(err))
		return false
	}

	if list, ok := result.([]any); ok {
		if len(list) != 1 {
			return false
		}
		result = list[0]
	}

	str, ok := result.(string)
	return ok && str == eq
}

// MaxDepth bounds matcher tree recursion; engine callers should reject
// configuration whose nesting exceeds this to avoid unbounded stack use.
const MaxDepth = 64

// Depth returns the maximum nesting depth of the matcher tree rooted at m.
func Depth(m apatetypes.Matcher) int {
	if len(m.Matchers) == 0 {
		return 1
	}
	max := 0
	for _, child := range m.Matchers {
		if d := Depth(child); d > max {
			max = d
		}
	}
	return max + 1
}
