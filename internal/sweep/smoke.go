// =============================================================================
// 文件: internal/sweep/smoke.go
// 描述: 冒烟测试 - 建一个哑铃，验证双向连通性并跑一次短时带宽测试
// =============================================================================
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/mrcgq/ccsweep/internal/topology"
	"github.com/mrcgq/ccsweep/internal/traffic"
)

// 冒烟测试的带宽测试时长
const smokeIperfDuration = 10 * time.Second

// RunSmokeTest 走一遍完整生命周期但不做参数扫描
//
// 取第一个时延值建拓扑，对两对主机做双向 ping，再各跑一次短时
// iperf，最后释放。用来在全量扫描前确认底座和生成器都可用。
func (c *Controller) RunSmokeTest(ctx context.Context) error {
	delay := time.Duration(c.cfg.DelaysMs[0]) * time.Millisecond
	c.log.Infof("冒烟测试: 瓶颈时延 %v", delay)

	handle, err := topology.Build(ctx, c.sub, c.log, topology.Params{
		Delay:          delay,
		BottleneckMbps: c.cfg.Link.BottleneckMbps,
		AccessMbps:     c.cfg.Link.AccessMbps,
		HostMbps:       c.cfg.Link.HostMbps,
		QueueLen:       c.cfg.Link.QueueLen,
	})
	if err != nil {
		return err
	}
	defer handle.Teardown(context.Background())

	// 双向连通性
	for _, p := range handle.Pairs() {
		if err := ping(ctx, p); err != nil {
			return err
		}
		c.log.Infof("连通性正常: %s <-> %s", p.Sender.Name(), p.Receiver.Name())
	}

	// 每对主机跑一次短时带宽测试
	orch := traffic.New(c.gen, time.Duration(c.cfg.Iperf.GraceSec)*time.Second, c.log)
	for i, p := range handle.Pairs() {
		flow := traffic.Flow{
			ID:       fmt.Sprintf("smoke%d", i+1),
			Sender:   p.Sender,
			Receiver: p.Receiver,
			Duration: smokeIperfDuration,
			Port:     c.cfg.Iperf.BasePort + i,
		}
		results := orch.RunFlows(ctx, []traffic.Flow{flow})
		if results[0].Status != traffic.StatusCompleted {
			return fmt.Errorf("带宽测试失败 (%s -> %s): %v",
				p.Sender.Name(), p.Receiver.Name(), results[0].Err)
		}
		c.log.Infof("带宽测试完成: %s -> %s", p.Sender.Name(), p.Receiver.Name())
	}

	c.log.Infof("冒烟测试通过")
	return nil
}

// ping 对一对主机做双向连通性检查
func ping(ctx context.Context, p topology.HostPair) error {
	if _, err := p.Sender.Run(ctx, "ping", "-c", "3", "-W", "2", p.Receiver.IP()); err != nil {
		return fmt.Errorf("%s -> %s 不通: %w", p.Sender.Name(), p.Receiver.Name(), err)
	}
	if _, err := p.Receiver.Run(ctx, "ping", "-c", "3", "-W", "2", p.Sender.IP()); err != nil {
		return fmt.Errorf("%s -> %s 不通: %w", p.Receiver.Name(), p.Sender.Name(), err)
	}
	return nil
}
