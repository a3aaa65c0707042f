package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dnrharness/internal/ctxkeys"
)

// DefaultScenarioTimeout 单个场景的默认截止时间
const DefaultScenarioTimeout = 10 * time.Second

// Outcome 单个场景的执行结果
type Outcome struct {
	RunID    string
	Name     string
	Passed   bool
	Err      error
	Observed string
	// CleanupErr 场景后全局清理的错误，同时并入 Err
	CleanupErr error
	Started    time.Time
	Duration   time.Duration
}

// Recorder 持久化场景结果
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Report 一次运行的全部结果，顺序与输入一致
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed 未通过的场景数
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Passed {
			n++
		}
	}
	return n
}

// Passed 全部通过
func (r Report) Passed() bool { return r.Failed() == 0 }

// RunnerOptions 运行器配置
type RunnerOptions struct {
	ScenarioTimeout time.Duration
	// Parallel 大于 1 时，不涉及规则的场景并发执行
	Parallel int
	Recorder Recorder
}

// Runner 按固定流程执行场景：安装 → 打开 → 观察 → 断言 → 清理 → 全局清理
type Runner struct {
	h    *Harness
	opts RunnerOptions
}

// NewRunner 创建运行器
func NewRunner(h *Harness, opts RunnerOptions) *Runner {
	if opts.ScenarioTimeout <= 0 {
		opts.ScenarioTimeout = DefaultScenarioTimeout
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{h: h, opts: opts}
}

// Harness 运行器使用的夹具
func (r *Runner) Harness() *Harness { return r.h }

// Run 执行单个场景并做全局清理
func (r *Runner) Run(ctx context.Context, s Scenario) Outcome {
	runID := ctxkeys.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = ctxkeys.WithRunID(ctx, runID)
	}
	o := r.run(ctx, s)
	r.sweep(ctx, &o)
	r.record(ctx, o)
	return o
}

// RunAll 依次执行全部场景。Parallel > 1 时先并发执行不安装规则的场景，
// 再顺序执行其余场景；动态规则和规则集对整个浏览器生效，不能并发
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) (Report, error) {
	runID := uuid.NewString()
	ctx = ctxkeys.WithRunID(ctx, runID)
	rep := Report{RunID: runID, Outcomes: make([]Outcome, len(scenarios))}
	r.h.log.Info("开始运行场景", "runID", runID, "count", len(scenarios), "parallel", r.opts.Parallel)

	var serial []int
	if r.opts.Parallel > 1 {
		var isolated []int
		for i, s := range scenarios {
			if touchesRules(s) {
				serial = append(serial, i)
			} else {
				isolated = append(isolated, i)
			}
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Parallel)
		for _, i := range isolated {
			i := i
			g.Go(func() error {
				rep.Outcomes[i] = r.run(gctx, scenarios[i])
				return nil
			})
		}
		_ = g.Wait()
		if len(isolated) > 0 {
			last := isolated[len(isolated)-1]
			r.sweep(ctx, &rep.Outcomes[last])
		}
		for _, i := range isolated {
			r.record(ctx, rep.Outcomes[i])
		}
	} else {
		serial = make([]int, len(scenarios))
		for i := range scenarios {
			serial[i] = i
		}
	}

	for _, i := range serial {
		if err := ctx.Err(); err != nil {
			rep.Outcomes[i] = Outcome{RunID: runID, Name: scenarios[i].Name, Err: err, Started: time.Now()}
			continue
		}
		rep.Outcomes[i] = r.Run(ctx, scenarios[i])
	}

	r.h.log.Info("场景运行结束", "runID", runID, "failed", rep.Failed())
	if n := rep.Failed(); n > 0 {
		return rep, fmt.Errorf("%d of %d scenarios failed", n, len(scenarios))
	}
	return rep, nil
}

func touchesRules(s Scenario) bool {
	return len(s.Rules) > 0 || len(s.Rulesets) > 0 || s.Update != nil
}

func (r *Runner) run(ctx context.Context, s Scenario) Outcome {
	o := Outcome{RunID: ctxkeys.RunID(ctx), Name: s.Name, Started: time.Now()}
	ctx = ctxkeys.WithScenario(ctx, s.Name)
	log := r.h.log.With("scenario", s.Name, "runID", o.RunID)

	err := r.execute(ctx, s, &o)
	o.Duration = time.Since(o.Started)
	o.Err = err
	o.Passed = err == nil

	var ae *AssertionError
	switch {
	case err == nil:
		log.Info("场景通过", "duration", o.Duration)
	case errors.As(err, &ae):
		log.Warn("场景断言失败", "want", ae.Want, "got", ae.Got, "reason", ae.Reason)
	default:
		log.Err(err, "场景执行失败", "duration", o.Duration)
	}
	return o
}

func (r *Runner) execute(ctx context.Context, s Scenario, o *Outcome) error {
	if err := s.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.ScenarioTimeout)
	defer cancel()

	if err := r.h.Rules.EnableRulesets(ctx, s.Rulesets...); err != nil {
		return err
	}
	return r.h.Rules.WithRules(ctx, s.Rules, func(ctx context.Context, scope *RuleScope) error {
		if s.Update != nil {
			if err := scope.Update(ctx, s.Update.AddRules, s.Update.RemoveRuleIDs); err != nil {
				return err
			}
		}
		got, err := r.h.observe(ctx, s)
		o.Observed = raw(got)
		if err != nil {
			return err
		}
		return checkExpectation(s.Name, s.Expect, got)
	})
}

func (r *Runner) sweep(ctx context.Context, o *Outcome) {
	if err := r.h.Sweep(ctx); err != nil {
		o.CleanupErr = err
		o.Err = errors.Join(o.Err, err)
		o.Passed = false
		r.h.log.Err(err, "全局清理失败", "scenario", o.Name)
	}
}

func (r *Runner) record(ctx context.Context, o Outcome) {
	if r.opts.Recorder == nil {
		return
	}
	ctx = ctxkeys.WithScenario(context.WithoutCancel(ctx), o.Name)
	if err := r.opts.Recorder.Record(ctx, o); err != nil {
		r.h.log.Err(err, "保存场景结果失败", "scenario", o.Name)
	}
}
