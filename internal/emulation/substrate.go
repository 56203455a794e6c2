// =============================================================================
// 文件: internal/emulation/substrate.go
// 描述: 仿真底座接口 - 编排核心只依赖这里定义的接口，不感知具体实现
// =============================================================================
package emulation

import (
	"context"
	"os"
	"time"
)

// LinkParams 链路参数
type LinkParams struct {
	// 链路带宽 (Mbps)
	RateMbps int

	// 单向传播时延
	Delay time.Duration

	// 队列长度 (包)，0 表示使用底座默认值
	QueueLen int
}

// Substrate 仿真底座
//
// 底座是全局独占资源：同一时刻最多存在一个已启动的实例，
// 由上层的串行运行约束保证，底座自身不做跨实例互斥。
type Substrate interface {
	// AddHost 创建主机节点，底座负责分配管理地址
	AddHost(name string) (Node, error)

	// AddSwitch 创建交换节点
	AddSwitch(name string) (Node, error)

	// AddLink 在两个节点之间创建链路并应用链路参数
	AddLink(a, b Node, params LinkParams) error

	// HostNode 返回代表宿主自身的节点，用于构建任何拓扑之前的
	// 预检（如读取宿主可用的拥塞控制算法）
	HostNode() Node

	// Start 启动网络（节点和链路生效）
	Start(ctx context.Context) error

	// Stop 释放全部节点、链路和残留进程，必须幂等，
	// 且在部分构建失败的状态下也能成功
	Stop(ctx context.Context) error
}

// Node 仿真节点
type Node interface {
	// Name 节点名
	Name() string

	// IP 主机的管理地址，交换节点返回空串
	IP() string

	// Run 在节点命名空间内执行命令并等待结束，返回标准输出
	Run(ctx context.Context, name string, args ...string) (string, error)

	// StartProc 在节点命名空间内启动长运行进程
	StartProc(ctx context.Context, name string, args ...string) (Proc, error)

	// ReapProcesses 强制回收节点上仍存活的进程
	ReapProcesses() error
}

// Proc 节点内的受管进程
type Proc interface {
	// PID 进程号
	PID() int

	// Done 进程退出后关闭
	Done() <-chan struct{}

	// Err 进程退出状态，Done 关闭后有效
	Err() error

	// Output 标准输出内容，Done 关闭后有效
	Output() []byte

	// StderrOutput 标准错误内容，Done 关闭后有效
	StderrOutput() []byte

	// Signal 向进程发送信号
	Signal(sig os.Signal) error

	// Kill 强制终止进程
	Kill() error
}
