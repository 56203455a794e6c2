// =============================================================================
// 文件: internal/traffic/orchestrator.go
// 描述: 流量编排 - 按偏移错峰启动各流的生成器并监督到退出或超时
// =============================================================================
package traffic

import (
	"context"
	"fmt"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/ccsweep/internal/emulation"
	"github.com/mrcgq/ccsweep/internal/logx"
)

// 发送 SIGTERM 后等待进程退出的上限，超过即 SIGKILL
const stopWait = 5 * time.Second

// 保留到结果里的标准错误末尾长度
const stderrTailLimit = 2048

// Orchestrator 流量编排器
type Orchestrator struct {
	gen   Generator
	grace time.Duration
	log   *logx.Logger
}

// New 创建编排器
func New(gen Generator, grace time.Duration, log *logx.Logger) *Orchestrator {
	return &Orchestrator{
		gen:   gen,
		grace: grace,
		log:   log.WithPrefix("[Traffic]"),
	}
}

// RunFlows 并发执行一次运行的全部流
//
// 各流按偏移顺序启动、并发执行。启动偏移统一以同一个运行起点计算，
// 重复运行的错峰调度在定时器精度内可复现。单条流的失败只标记该流，
// 已启动的其它流照常跑完并保留输出。总耗时上界为
// max(offset+duration) + 宽限期 + 停止等待。
func (o *Orchestrator) RunFlows(ctx context.Context, flows []Flow) []FlowResult {
	ordered := make([]Flow, len(flows))
	copy(ordered, flows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Offset < ordered[j].Offset
	})

	results := make([]FlowResult, len(ordered))
	servers := make([]emulation.Proc, len(ordered))

	// 先把所有接收端的服务进程拉起来，服务端起不来等价于该流启动失败
	for i, f := range ordered {
		proc, err := o.gen.StartServer(ctx, f.Receiver, f.Port)
		if err != nil {
			o.log.Errorf("流 %s 服务端启动失败: %v", f.ID, err)
			results[i] = FlowResult{
				Flow:   f,
				Status: StatusLaunchFailed,
				Err:    &LaunchError{FlowID: f.ID, Err: err},
			}
			continue
		}
		servers[i] = proc
	}

	// 所有偏移都相对这一个起点，保证错峰结构可复现
	runStart := time.Now()

	var g errgroup.Group
	for i := range ordered {
		if results[i].Status == StatusLaunchFailed {
			continue
		}
		i := i
		g.Go(func() error {
			results[i] = o.runFlow(ctx, runStart, ordered[i])
			return nil
		})
	}
	g.Wait()

	// 服务端在客户端断开后自行退出，这里兜底回收
	for i, proc := range servers {
		if proc == nil {
			continue
		}
		o.stopProc(proc, fmt.Sprintf("%s-server", ordered[i].ID))
	}

	return results
}

// runFlow 监督单条流：等偏移、启动、限时等待、必要时强制终止
func (o *Orchestrator) runFlow(ctx context.Context, runStart time.Time, f Flow) FlowResult {
	res := FlowResult{Flow: f}

	// 等待启动偏移
	if wait := time.Until(runStart.Add(f.Offset)); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			res.Status = StatusAborted
			res.Err = ctx.Err()
			return res
		}
	}

	o.log.Infof("流 %s 启动: %s -> %s, 算法 %s, 时长 %v",
		f.ID, f.Sender.Name(), f.Receiver.Name(), f.Algorithm, f.Duration)

	proc, err := o.gen.StartClient(ctx, f.Sender, f.Receiver.IP(), f.Port, f.Duration)
	if err != nil {
		res.Status = StatusLaunchFailed
		res.Err = &LaunchError{FlowID: f.ID, Err: err}
		return res
	}

	deadline := time.NewTimer(f.Duration + o.grace)
	defer deadline.Stop()

	select {
	case <-proc.Done():
		res.Status = StatusCompleted
		res.Output = proc.Output()
		if err := proc.Err(); err != nil {
			// 非零退出保留输出，交给采集器尽力解析
			res.Err = fmt.Errorf("流 %s 生成器异常退出: %w", f.ID, err)
		}
		o.log.Infof("流 %s 完成", f.ID)

	case <-deadline.C:
		o.log.Errorf("流 %s 超过 %v 未退出，强制终止", f.ID, f.Duration+o.grace)
		o.stopProc(proc, f.ID)
		res.Status = StatusTimeout
		res.Output = proc.Output()
		res.Err = fmt.Errorf("流 %s 超时", f.ID)

	case <-ctx.Done():
		o.stopProc(proc, f.ID)
		res.Status = StatusAborted
		res.Output = proc.Output()
		res.Err = ctx.Err()
	}

	res.Stderr = stderrTail(proc)
	return res
}

// stderrTail 截取进程标准错误的末尾片段
func stderrTail(proc emulation.Proc) []byte {
	out := proc.StderrOutput()
	if len(out) > stderrTailLimit {
		out = out[len(out)-stderrTailLimit:]
	}
	return out
}

// stopProc 先 SIGTERM，限时不退再 SIGKILL，返回前确认进程已退出
func (o *Orchestrator) stopProc(proc emulation.Proc, tag string) {
	select {
	case <-proc.Done():
		return
	default:
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		proc.Kill()
	}

	timer := time.NewTimer(stopWait)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
		o.log.Errorf("%s 未响应 SIGTERM，SIGKILL", tag)
		proc.Kill()
		<-proc.Done()
	}
}
