// Package spawner defines the boundary between the recipe engine and the
// external agent spawner. The engine treats the spawner as a black box
// that may take arbitrarily long and may fail; it never constructs one
// itself.
package spawner

import "context"

// Spawner executes one agent step and returns its opaque result. The
// engine stores the result verbatim in context — it never inspects its
// shape beyond what the caller's own templates later reference.
//
// agentName is the step's `agent` field. instruction is the
// variable-substituted prompt (with the `MODE: ...` prefix already
// applied, if the step set one). parentSession is the session ID of the
// recipe run the step belongs to, passed through so the spawner can
// thread conversation/tool state. agentConfigs is the recipe's
// `agent_config` map for the step, if any.
type Spawner interface {
	Spawn(ctx context.Context, agentName, instruction, parentSession string, agentConfigs map[string]interface{}) (interface{}, error)
}

// Func adapts a plain function to the Spawner interface, the same way
// http.HandlerFunc adapts a function to http.Handler. Primarily useful in
// tests and for simple embedders who don't need a stateful spawner.
type Func func(ctx context.Context, agentName, instruction, parentSession string, agentConfigs map[string]interface{}) (interface{}, error)

// Spawn implements Spawner.
func (f Func) Spawn(ctx context.Context, agentName, instruction, parentSession string, agentConfigs map[string]interface{}) (interface{}, error) {
	return f(ctx, agentName, instruction, parentSession, agentConfigs)
}
