// =============================================================================
// 文件: internal/traffic/generator.go
// 描述: 流量生成器接口 - 默认实现驱动节点内的 iperf3 进程
// =============================================================================
package traffic

import (
	"context"
	"strconv"
	"time"

	"github.com/mrcgq/ccsweep/internal/emulation"
)

// Generator 流量生成器
//
// 接收端先起服务进程，发送端再对其发起指定时长的 TCP 流。
type Generator interface {
	// StartServer 在接收端启动服务进程
	StartServer(ctx context.Context, node emulation.Node, port int) (emulation.Proc, error)

	// StartClient 在发送端向 target:port 发起 duration 时长的流，
	// 进程标准输出为带区间采样的测量报告
	StartClient(ctx context.Context, node emulation.Node, target string, port int, duration time.Duration) (emulation.Proc, error)
}

// IperfGenerator 基于 iperf3 的生成器
type IperfGenerator struct {
	// iperf3 可执行文件路径，空串使用 PATH
	BinaryPath string
}

func (g *IperfGenerator) binary() string {
	if g.BinaryPath != "" {
		return g.BinaryPath
	}
	return "iperf3"
}

// StartServer 启动 iperf3 服务端，单客户端模式，客户端断开后自行退出
func (g *IperfGenerator) StartServer(ctx context.Context, node emulation.Node, port int) (emulation.Proc, error) {
	return node.StartProc(ctx, g.binary(),
		"-s",
		"-p", strconv.Itoa(port),
		"-1",
	)
}

// StartClient 启动 iperf3 客户端，JSON 报告 + 每秒一个采样区间
func (g *IperfGenerator) StartClient(ctx context.Context, node emulation.Node, target string, port int, duration time.Duration) (emulation.Proc, error) {
	seconds := int(duration.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return node.StartProc(ctx, g.binary(),
		"-c", target,
		"-p", strconv.Itoa(port),
		"-t", strconv.Itoa(seconds),
		"-i", "1",
		"-J",
	)
}
