// =============================================================================
// 文件: internal/sweep/sweep.go
// 描述: 扫描控制器 - 枚举算法×时延矩阵，逐个组合驱动构建/配置/运行/采集/释放
// =============================================================================
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mrcgq/ccsweep/internal/cca"
	"github.com/mrcgq/ccsweep/internal/collector"
	"github.com/mrcgq/ccsweep/internal/config"
	"github.com/mrcgq/ccsweep/internal/emulation"
	"github.com/mrcgq/ccsweep/internal/logx"
	"github.com/mrcgq/ccsweep/internal/metrics"
	"github.com/mrcgq/ccsweep/internal/topology"
	"github.com/mrcgq/ccsweep/internal/traffic"
)

// State 单次运行的阶段
type State string

const (
	StateIdle        State = "idle"
	StateBuilding    State = "building"
	StateConfiguring State = "configuring"
	StateRunning     State = "running"
	StateCollecting  State = "collecting"
	StateTearingDown State = "tearing_down"
	StateDone        State = "done"
)

// 运行终态
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
)

// Combination 一个待测组合
//
// 同一组合内两个发送端绑定同一算法，第二条流按配置的偏移错峰启动，
// 用来观察同算法两条流在瓶颈上的收敛与公平性。
type Combination struct {
	Algorithm string
	DelayMs   int
}

// RunID 组合的运行标识
func (c Combination) RunID() string {
	return fmt.Sprintf("%s_%dms", c.Algorithm, c.DelayMs)
}

// Summary 扫描汇总
type Summary struct {
	Total     int
	Completed int
	Partial   int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("共 %d 个组合: 成功 %d, 部分成功 %d, 失败 %d",
		s.Total, s.Completed, s.Partial, s.Failed)
}

// Controller 扫描控制器
//
// 严格串行：同一时刻最多存在一个拓扑实例，运行 N 的释放一定先于
// 运行 N+1 的构建。运行内的并行只发生在流量编排器的各流工作协程里。
type Controller struct {
	cfg *config.Config
	sub emulation.Substrate
	gen traffic.Generator
	m   *metrics.SweepMetrics
	log *logx.Logger

	results *collector.ResultSet

	// state 和 progress 会被健康检查端点跨协程读取
	state    State
	progress Summary
	mu       sync.Mutex
}

// New 创建扫描控制器，m 可为 nil（未启用监控）
func New(cfg *config.Config, sub emulation.Substrate, gen traffic.Generator, m *metrics.SweepMetrics, log *logx.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		sub:     sub,
		gen:     gen,
		m:       m,
		log:     log.WithPrefix("[Sweep]"),
		results: collector.NewResultSet(),
		state:   StateIdle,
	}
}

// State 当前阶段
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Progress 扫描进度快照
func (c *Controller) Progress() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Controller) setProgress(s Summary) {
	c.mu.Lock()
	c.progress = s
	c.mu.Unlock()
}

// Results 扫描结果集
func (c *Controller) Results() *collector.ResultSet { return c.results }

// Combinations 按确定顺序枚举组合：算法外层，时延内层
//
// 相同配置重复扫描产生相同的运行序列。
func (c *Controller) Combinations() []Combination {
	combos := make([]Combination, 0, len(c.cfg.Algorithms)*len(c.cfg.DelaysMs))
	for _, alg := range c.cfg.Algorithms {
		for _, d := range c.cfg.DelaysMs {
			combos = append(combos, Combination{Algorithm: alg, DelayMs: d})
		}
	}
	return combos
}

// Run 执行完整扫描
//
// 返回错误仅在扫描根本无法开始（算法不被宿主识别、底座不可用）或
// 内部不变量被破坏（重复采样）时非空；单个组合的失败计入汇总并继续。
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	// 配置错误要在构建任何拓扑之前廉价失败
	if err := cca.ValidateAll(ctx, c.sub.HostNode(), c.cfg.Algorithms); err != nil {
		return summary, fmt.Errorf("算法预检失败: %w", err)
	}

	combos := c.Combinations()
	summary.Total = len(combos)
	c.setProgress(summary)
	c.log.Infof("开始扫描: %d 算法 × %d 时延 = %d 组合",
		len(c.cfg.Algorithms), len(c.cfg.DelaysMs), len(combos))

	for i, comb := range combos {
		c.log.Infof("组合 %d/%d: 算法 %s, 瓶颈时延 %dms",
			i+1, len(combos), comb.Algorithm, comb.DelayMs)

		outcome, err := c.runOne(ctx, comb)
		switch outcome {
		case OutcomeCompleted:
			summary.Completed++
		case OutcomePartial:
			summary.Partial++
		default:
			summary.Failed++
		}
		c.setProgress(summary)
		if c.m != nil {
			c.m.RunsTotal.WithLabelValues(outcome).Inc()
		}
		if err != nil {
			// 不变量被破坏，立即终止，不再掩盖
			c.setState(StateDone)
			return summary, err
		}

		// 取消请求先让当前运行完成释放，再停止扫描
		if ctx.Err() != nil {
			c.log.Infof("扫描被取消，已完成当前运行的释放")
			c.setState(StateDone)
			return summary, ctx.Err()
		}
	}

	c.setState(StateDone)
	c.log.Infof("扫描结束: %s", summary)
	return summary, nil
}

// runOne 执行一个组合的完整生命周期
//
// 释放在任何退出路径上都恰好执行一次（句柄自身幂等兜底）。
// 返回的 error 只用于致命的不变量违规，普通失败通过 outcome 表达。
func (c *Controller) runOne(ctx context.Context, comb Combination) (outcome string, fatal error) {
	runID := comb.RunID()
	startedAt := time.Now()

	rec := &collector.RunRecord{
		RunID:      runID,
		Algorithms: []string{comb.Algorithm, comb.Algorithm},
		DelayMs:    comb.DelayMs,
		StartedAt:  startedAt,
	}

	if c.m != nil {
		c.m.RunsInProgress.Set(1)
		defer c.m.RunsInProgress.Set(0)
		defer func() {
			c.m.RunDuration.Observe(time.Since(startedAt).Seconds())
		}()
	}

	// 构建
	c.setState(StateBuilding)
	handle, err := topology.Build(ctx, c.sub, c.log, topology.Params{
		Delay:          time.Duration(comb.DelayMs) * time.Millisecond,
		BottleneckMbps: c.cfg.Link.BottleneckMbps,
		AccessMbps:     c.cfg.Link.AccessMbps,
		HostMbps:       c.cfg.Link.HostMbps,
		QueueLen:       c.cfg.Link.QueueLen,
	})
	if err != nil {
		c.log.Errorf("组合 %s 构建失败: %v", runID, err)
		c.finishRun(rec, OutcomeFailed, err)
		return OutcomeFailed, nil
	}

	// 无论后面哪条路径退出，这个运行的释放都先于函数返回。
	// 释放用独立上下文：取消扫描不能跳过释放。
	defer func() {
		c.setState(StateTearingDown)
		if err := handle.Teardown(context.Background()); err != nil {
			c.log.Errorf("组合 %s 释放失败: %v", runID, err)
		}
		if c.m != nil {
			c.m.TeardownsTotal.Inc()
		}
		c.setState(StateDone)
	}()

	// 配置算法
	c.setState(StateConfiguring)
	pairs := handle.Pairs()
	for _, p := range pairs {
		if err := cca.Configure(ctx, p.Sender, comb.Algorithm); err != nil {
			c.log.Errorf("组合 %s 配置失败: %v", runID, err)
			c.finishRun(rec, OutcomeFailed, err)
			return OutcomeFailed, nil
		}
	}

	// 运行流量
	c.setState(StateRunning)
	flows := c.buildFlows(comb, pairs)
	if c.m != nil {
		c.m.ActiveFlows.Set(float64(len(flows)))
	}
	orch := traffic.New(c.gen, time.Duration(c.cfg.Iperf.GraceSec)*time.Second, c.log)
	results := orch.RunFlows(ctx, flows)
	if c.m != nil {
		c.m.ActiveFlows.Set(0)
	}

	// 采集
	c.setState(StateCollecting)
	outcome, fatal = c.collect(runID, results, rec)
	if fatal != nil {
		return OutcomeFailed, fatal
	}

	c.finishRun(rec, outcome, nil)
	return outcome, nil
}

// buildFlows 把组合展开成流：每个发送端一条，第二条及以后错峰启动
func (c *Controller) buildFlows(comb Combination, pairs []topology.HostPair) []traffic.Flow {
	flows := make([]traffic.Flow, 0, len(pairs))
	for i, p := range pairs {
		var offset time.Duration
		if i > 0 {
			offset = time.Duration(c.cfg.Iperf.DelayedStartSec) * time.Second
		}
		flows = append(flows, traffic.Flow{
			ID:        fmt.Sprintf("flow%d", i+1),
			Sender:    p.Sender,
			Receiver:  p.Receiver,
			Algorithm: comb.Algorithm,
			Offset:    offset,
			Duration:  time.Duration(c.cfg.Iperf.RuntimeSec) * time.Second,
			Port:      c.cfg.Iperf.BasePort + i,
		})
	}
	return flows
}

// collect 解析各流输出并入结果集，决定运行终态
func (c *Controller) collect(runID string, results []traffic.FlowResult, rec *collector.RunRecord) (string, error) {
	launchFailed := false
	degraded := false

	for _, fr := range results {
		fRec := collector.FlowRecord{
			FlowID:      fr.Flow.ID,
			Algorithm:   fr.Flow.Algorithm,
			Sender:      fr.Flow.Sender.Name(),
			Receiver:    fr.Flow.Receiver.Name(),
			OffsetSec:   fr.Flow.Offset.Seconds(),
			DurationSec: fr.Flow.Duration.Seconds(),
			Status:      string(fr.Status),
		}
		if fr.Err != nil {
			fRec.Error = fr.Err.Error()
		}
		if len(fr.Stderr) > 0 {
			fRec.Stderr = string(fr.Stderr)
		}
		if c.m != nil {
			c.m.FlowsTotal.WithLabelValues(string(fr.Status)).Inc()
		}

		switch fr.Status {
		case traffic.StatusLaunchFailed:
			launchFailed = true
		case traffic.StatusCompleted:
		default:
			degraded = true
		}

		// 启动失败没有输出可解析；超时/取消的流保留已产出的部分数据
		if len(fr.Output) > 0 {
			samples, err := collector.Parse(fr.Output)
			if err != nil {
				// 解析失败只丢这条流的采样，运行内其它流照常采集
				c.log.Errorf("流 %s 输出解析失败: %v", fr.Flow.ID, err)
				degraded = true
			} else {
				collector.ShiftTimestamps(samples, fr.Flow.Offset.Seconds())
				if err := c.results.Record(runID, fr.Flow.ID, samples); err != nil {
					var dup *collector.DuplicateSampleError
					if errors.As(err, &dup) {
						return OutcomeFailed, fmt.Errorf("采样唯一性不变量被破坏: %w", err)
					}
					return OutcomeFailed, err
				}
				fRec.Samples = samples
				if c.m != nil {
					c.m.SamplesTotal.Add(float64(len(samples)))
				}
			}
		}

		rec.Flows = append(rec.Flows, fRec)
	}

	switch {
	case launchFailed:
		return OutcomeFailed, nil
	case degraded:
		return OutcomePartial, nil
	default:
		return OutcomeCompleted, nil
	}
}

// finishRun 落盘运行记录
func (c *Controller) finishRun(rec *collector.RunRecord, outcome string, runErr error) {
	rec.Status = outcome
	rec.FinishedAt = time.Now()
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	path, err := collector.WriteRunRecord(c.cfg.OutputDir, rec)
	if err != nil {
		c.log.Errorf("写运行记录失败: %v", err)
		return
	}
	c.log.Infof("运行 %s 结束 (%s), 记录: %s", rec.RunID, outcome, path)
}
