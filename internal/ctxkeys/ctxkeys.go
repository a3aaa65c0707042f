package ctxkeys

import "context"

// RunIDKey 一次套件运行的 ID
type RunIDKey struct{}

// ScenarioKey 当前场景名
type ScenarioKey struct{}

// WithRunID 在 ctx 中记录运行 ID
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey{}, id)
}

// RunID 取出运行 ID，不存在时为空串
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(RunIDKey{}).(string)
	return id
}

// WithScenario 在 ctx 中记录场景名
func WithScenario(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ScenarioKey{}, name)
}

// Scenario 取出场景名
func Scenario(ctx context.Context) string {
	s, _ := ctx.Value(ScenarioKey{}).(string)
	return s
}
