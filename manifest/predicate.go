package manifest

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// businessHoursStart/End bound §4.6's is_business_hours() expansion:
// time_of_day ∈ [09:00, 17:00).
const (
	businessHoursStart = "09:00"
	businessHoursEnd   = "17:00"
)

// toEnv flattens an EvaluationContext into the map expr evaluates
// against, with Custom's keys merged at the top level so a manifest
// author can reference them directly (§4.6).
func toEnv(ctx EvaluationContext) map[string]any {
	if ctx.TimeOfDay == "" && !ctx.Now.IsZero() {
		ctx.TimeOfDay = ctx.Now.Format("15:04")
	}
	env := map[string]any{
		"time_of_day":       ctx.TimeOfDay,
		"day_of_week":       ctx.DayOfWeek,
		"is_weekend":        ctx.IsWeekend,
		"current_date":      ctx.CurrentDate,
		"os_version":        ctx.OSVersion,
		"device_type":       ctx.DeviceType,
		"device_model":      ctx.DeviceModel,
		"network_location":  ctx.NetworkLocation,
		"network_ssid":      ctx.NetworkSSID,
		"vpn_connected":     ctx.VPNConnected,
		"vpn_identifier":    ctx.VPNIdentifier,
		"user_group":        ctx.UserGroup,
		"device_identifier": ctx.DeviceIdentifier,
		"security_score":    ctx.SecurityScore,
		"is_business_hours": func() bool {
			return !ctx.IsWeekend && ctx.TimeOfDay >= businessHoursStart && ctx.TimeOfDay < businessHoursEnd
		},
		"is_weekday": func() bool {
			return !ctx.IsWeekend
		},
	}
	for k, v := range ctx.Custom {
		env[k] = v
	}
	return env
}

// CompilePredicate compiles a §4.6 condition expression. Compilation
// deliberately skips expr.Env-based static typing: custom keys vary per
// evaluation (manifest authors can reference any caller-provided key),
// so identifiers are resolved dynamically against the map toEnv builds
// at Run time instead of a fixed schema; expr.AllowUndefinedVariables
// lets an unset custom key evaluate to nil rather than failing to
// compile. Grounded on erfianugrah-gloryhole's go.mod, the pack's
// representative use of expr-lang/expr for exactly this kind of
// "predicate over a struct of request/session facts" evaluation.
func CompilePredicate(condition string) (*vm.Program, error) {
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("manifest: compiling condition %q: %w", condition, err)
	}
	return program, nil
}

// EvaluatePredicate compiles and runs condition against ctx in one step.
// Resolver.merge calls this directly, recompiling each ConditionalItem's
// condition on every evaluation; CompilePredicate/RunPredicate are split
// out for callers (and tests) that want to reuse a compiled program
// across multiple EvaluationContext snapshots instead.
func EvaluatePredicate(condition string, ctx EvaluationContext) (bool, error) {
	program, err := CompilePredicate(condition)
	if err != nil {
		return false, err
	}
	return RunPredicate(program, ctx)
}

// RunPredicate evaluates a pre-compiled predicate program against ctx.
func RunPredicate(program *vm.Program, ctx EvaluationContext) (bool, error) {
	out, err := expr.Run(program, toEnv(ctx))
	if err != nil {
		return false, fmt.Errorf("manifest: evaluating condition: %w", err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("manifest: condition did not evaluate to a boolean (got %T)", out)
	}
	return result, nil
}
