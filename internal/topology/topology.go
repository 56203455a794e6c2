// =============================================================================
// 文件: internal/topology/topology.go
// 描述: 哑铃拓扑构建 - 两对收发主机经接入交换机汇聚到一条瓶颈链路
// =============================================================================
package topology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mrcgq/ccsweep/internal/emulation"
	"github.com/mrcgq/ccsweep/internal/logx"
)

// SetupError 底座无法分配所需虚拟资源（权限、资源耗尽等）
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("拓扑构建失败 (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Params 哑铃参数
//
// 结构固定：h1/h3 为发送端挂在 s3，h2/h4 为接收端挂在 s4，
// s1-s2 骨干链路是唯一的瓶颈，时延按运行扫描，其余链路参数不扫描。
type Params struct {
	// 瓶颈单向传播时延
	Delay time.Duration

	BottleneckMbps int
	AccessMbps     int
	HostMbps       int

	// 接入链路队列长度 (包)
	QueueLen int
}

// HostPair 一对收发主机
type HostPair struct {
	Sender   emulation.Node
	Receiver emulation.Node
}

// Handle 一次运行的拓扑实例
type Handle struct {
	sub   emulation.Substrate
	log   *logx.Logger
	nodes []emulation.Node
	pairs []HostPair

	torn bool
	mu   sync.Mutex
}

// Build 构建哑铃拓扑
//
// 任一步失败都会先拆掉已建的部分再返回，保证不向调用方泄漏半成品状态。
func Build(ctx context.Context, sub emulation.Substrate, log *logx.Logger, params Params) (*Handle, error) {
	h := &Handle{
		sub: sub,
		log: log.WithPrefix("[Topology]"),
	}

	if err := h.build(ctx, params); err != nil {
		h.Teardown(context.Background())
		return nil, err
	}
	return h, nil
}

func (h *Handle) build(ctx context.Context, params Params) error {
	addSwitch := func(name string) (emulation.Node, error) {
		n, err := h.sub.AddSwitch(name)
		if err != nil {
			return nil, &SetupError{Stage: "switch " + name, Err: err}
		}
		h.nodes = append(h.nodes, n)
		return n, nil
	}
	addHost := func(name string) (emulation.Node, error) {
		n, err := h.sub.AddHost(name)
		if err != nil {
			return nil, &SetupError{Stage: "host " + name, Err: err}
		}
		h.nodes = append(h.nodes, n)
		return n, nil
	}

	// 骨干交换机 s1/s2，接入交换机 s3/s4
	s1, err := addSwitch("s1")
	if err != nil {
		return err
	}
	s2, err := addSwitch("s2")
	if err != nil {
		return err
	}
	s3, err := addSwitch("s3")
	if err != nil {
		return err
	}
	s4, err := addSwitch("s4")
	if err != nil {
		return err
	}

	// h1/h3 发送端，h2/h4 接收端
	h1, err := addHost("h1")
	if err != nil {
		return err
	}
	h2, err := addHost("h2")
	if err != nil {
		return err
	}
	h3, err := addHost("h3")
	if err != nil {
		return err
	}
	h4, err := addHost("h4")
	if err != nil {
		return err
	}

	bottleneck := emulation.LinkParams{
		RateMbps: params.BottleneckMbps,
		Delay:    params.Delay,
	}
	access := emulation.LinkParams{
		RateMbps: params.AccessMbps,
		QueueLen: params.QueueLen,
	}
	hostLink := emulation.LinkParams{
		RateMbps: params.HostMbps,
	}

	links := []struct {
		a, b   emulation.Node
		params emulation.LinkParams
		tag    string
	}{
		{s1, s2, bottleneck, "s1-s2"},
		{s1, s3, access, "s1-s3"},
		{s2, s4, access, "s2-s4"},
		{s3, h1, hostLink, "s3-h1"},
		{s3, h3, hostLink, "s3-h3"},
		{s4, h2, hostLink, "s4-h2"},
		{s4, h4, hostLink, "s4-h4"},
	}
	for _, l := range links {
		if err := h.sub.AddLink(l.a, l.b, l.params); err != nil {
			return &SetupError{Stage: "link " + l.tag, Err: err}
		}
	}

	if err := h.sub.Start(ctx); err != nil {
		return &SetupError{Stage: "start", Err: err}
	}

	h.pairs = []HostPair{
		{Sender: h1, Receiver: h2},
		{Sender: h3, Receiver: h4},
	}

	h.log.Infof("哑铃拓扑已构建: 瓶颈时延 %v, 瓶颈带宽 %dMbps", params.Delay, params.BottleneckMbps)
	return nil
}

// Pairs 按固定顺序返回收发主机对
func (h *Handle) Pairs() []HostPair {
	return h.pairs
}

// Teardown 释放拓扑，幂等
//
// 先回收各节点的残留进程再释放网络状态，部分构建失败的句柄同样可拆。
func (h *Handle) Teardown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.torn {
		return nil
	}
	h.torn = true

	for _, n := range h.nodes {
		if err := n.ReapProcesses(); err != nil {
			h.log.Errorf("回收节点 %s 进程失败: %v", n.Name(), err)
		}
	}

	if err := h.sub.Stop(ctx); err != nil {
		return fmt.Errorf("释放网络失败: %w", err)
	}

	h.log.Infof("拓扑已释放")
	return nil
}
