package dsl

import (
	"context"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/strategy/sdk"
)

// Compile builds an executable strategy from a validated submission. The
// import gate re-checks every use declaration against the allow-list at
// compile time, so a submission that somehow skipped validation still
// cannot reach outside the environment. The compiled rules only ever see
// the curated environment assembled in buildEnv; there is no filesystem,
// process, network, or import machinery to find in it.
func Compile(source string, params map[string]float64) (sdk.Strategy, error) {
	script, err := ParseScript(source)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidStrategy, "strategy script does not parse")
	}

	// Import gate: never trust the static pre-filter alone
	for _, use := range script.Uses {
		if !allowedModules[use] {
			return nil, apperrors.Newf(apperrors.ErrCodeUnsafeCode, "import of module %q is not permitted", use)
		}
	}

	if !script.HasShapeRule() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStrategy,
			"no eligible strategy rule found; declare at least one of entry, exit, on_bar", nil)
	}

	merged := make(map[string]float64, len(script.Params)+len(params))
	for k, v := range script.Params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	st := &scriptStrategy{
		programs: make(map[string]*vm.Program, len(script.Rules)),
		params:   merged,
	}
	for _, name := range script.RuleOrder {
		if !knownRules[name] {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidStrategy, "unrecognized rule %q", name)
		}
		program, err := expr.Compile(script.Rules[name], expr.AllowUndefinedVariables())
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidStrategy,
				fmt.Sprintf("rule %q failed to compile", name))
		}
		st.programs[name] = program
	}
	return st, nil
}

// scriptStrategy adapts compiled rules onto the Strategy interface. All
// trade activity flows through the tracking broker handed over at
// initialization, so bookkeeping does not depend on the submission's
// cooperation.
type scriptStrategy struct {
	programs map[string]*vm.Program
	params   map[string]float64
	ind      *indicatorSet
	sctx     *sdk.Context
	env      map[string]interface{}
	barIndex int
}

// Initialize prepares the restricted environment for a run
func (s *scriptStrategy) Initialize(_ context.Context, sctx *sdk.Context) error {
	if sctx == nil || sctx.Broker == nil {
		return apperrors.New(apperrors.ErrCodeInvalidStrategy, "strategy context has no broker", nil)
	}
	s.sctx = sctx
	s.ind = newIndicatorSet()
	s.barIndex = 0
	s.env = buildEnv(s.ind, s.params)

	for k, v := range sctx.Params {
		s.env[k] = v
	}
	return nil
}

// OnBar evaluates the rules against the new bar and routes any resulting
// fills through the broker.
func (s *scriptStrategy) OnBar(_ context.Context, bar kline.Kline) error {
	s.ind.push(bar)
	broker := s.sctx.Broker

	s.env["open"] = bar.Open
	s.env["high"] = bar.High
	s.env["low"] = bar.Low
	s.env["close"] = bar.Close
	s.env["volume"] = bar.Volume
	s.env["index"] = s.barIndex
	s.env["cash"] = broker.Cash()
	s.env["equity"] = broker.Equity()
	s.env["position"] = broker.Position()
	s.env["entry_price"] = broker.EntryPrice()
	s.env["bars_held"] = broker.BarsHeld()
	s.env["time"] = map[string]interface{}{
		"year":    bar.OpenTime.Year(),
		"month":   int(bar.OpenTime.Month()),
		"day":     bar.OpenTime.Day(),
		"weekday": int(bar.OpenTime.Weekday()),
		"hour":    bar.OpenTime.Hour(),
	}
	s.barIndex++

	if program, ok := s.programs[RuleOnBar]; ok {
		signal, err := s.evalNumber(RuleOnBar, program)
		if err != nil {
			return err
		}
		switch {
		case signal > 0 && broker.Position() == 0:
			return broker.Buy(s.entrySize())
		case signal < 0 && broker.Position() > 0:
			return broker.Sell()
		}
		return nil
	}

	if broker.Position() == 0 {
		if program, ok := s.programs[RuleEntry]; ok {
			enter, err := s.evalBool(RuleEntry, program)
			if err != nil {
				return err
			}
			if enter {
				return broker.Buy(s.entrySize())
			}
		}
		return nil
	}

	if program, ok := s.programs[RuleExit]; ok {
		leave, err := s.evalBool(RuleExit, program)
		if err != nil {
			return err
		}
		if leave {
			return broker.Sell()
		}
	}
	return nil
}

// Finish completes the run; open positions are the engine's to liquidate
func (s *scriptStrategy) Finish(_ context.Context) error {
	return nil
}

// entrySize evaluates the optional size rule, clamped to (0, 1]
func (s *scriptStrategy) entrySize() float64 {
	program, ok := s.programs[RuleSize]
	if !ok {
		return 1.0
	}
	size, err := s.evalNumber(RuleSize, program)
	if err != nil || math.IsNaN(size) || size <= 0 {
		return 1.0
	}
	if size > 1 {
		return 1.0
	}
	return size
}

func (s *scriptStrategy) evalBool(name string, program *vm.Program) (bool, error) {
	out, err := expr.Run(program, s.env)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeExecution,
			fmt.Sprintf("rule %q failed to evaluate", name))
	}
	b, ok := out.(bool)
	if !ok {
		return false, apperrors.Newf(apperrors.ErrCodeInvalidStrategy,
			"rule %q must evaluate to a boolean, got %T", name, out)
	}
	return b, nil
}

func (s *scriptStrategy) evalNumber(name string, program *vm.Program) (float64, error) {
	out, err := expr.Run(program, s.env)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeExecution,
			fmt.Sprintf("rule %q failed to evaluate", name))
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apperrors.Newf(apperrors.ErrCodeInvalidStrategy,
			"rule %q must evaluate to a number, got %T", name, out)
	}
}

// buildEnv assembles the curated evaluation environment: indicator
// functions bound to the run's rolling window, the allowed module
// namespaces, and the declared parameters. Nothing else is reachable.
func buildEnv(ind *indicatorSet, params map[string]float64) map[string]interface{} {
	env := map[string]interface{}{
		"sma":        ind.SMA,
		"ema":        ind.EMA,
		"rsi":        ind.RSI,
		"atr":        ind.ATR,
		"stddev":     ind.StdDev,
		"highest":    ind.Highest,
		"lowest":     ind.Lowest,
		"change":     ind.Change,
		"crossover":  ind.Crossover,
		"crossunder": ind.Crossunder,

		"math": map[string]interface{}{
			"abs":   math.Abs,
			"sqrt":  math.Sqrt,
			"floor": math.Floor,
			"ceil":  math.Ceil,
			"log":   math.Log,
			"pow":   math.Pow,
		},
		"stats": map[string]interface{}{
			"mean":   ind.SMA,
			"stddev": ind.StdDev,
		},
		"ta": map[string]interface{}{
			"sma":     ind.SMA,
			"ema":     ind.EMA,
			"rsi":     ind.RSI,
			"atr":     ind.ATR,
			"highest": ind.Highest,
			"lowest":  ind.Lowest,
		},
	}
	for k, v := range params {
		env[k] = v
	}
	return env
}
