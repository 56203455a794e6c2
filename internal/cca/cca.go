// =============================================================================
// 文件: internal/cca/cca.go
// 描述: 拥塞控制算法配置 - 校验算法可用性并绑定到发送端
// =============================================================================
package cca

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrcgq/ccsweep/internal/emulation"
)

// 可用算法列表由内核决定，是开放集合，这里不维护固定清单
const (
	availableSysctl = "net.ipv4.tcp_available_congestion_control"
	currentSysctl   = "net.ipv4.tcp_congestion_control"
)

// UnsupportedAlgorithmError 请求的算法在宿主上不可用
type UnsupportedAlgorithmError struct {
	Name      string
	Available []string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("不支持的拥塞控制算法: %s (可用: %s)",
		e.Name, strings.Join(e.Available, ", "))
}

// Available 读取节点可用的拥塞控制算法
func Available(ctx context.Context, node emulation.Node) ([]string, error) {
	out, err := node.Run(ctx, "sysctl", "-n", availableSysctl)
	if err != nil {
		return nil, fmt.Errorf("读取可用算法失败: %w", err)
	}
	return strings.Fields(out), nil
}

// ValidateAll 一次性校验整个算法集合
//
// 必须在任何流量生成器启动之前调用，配置错误要在构建拓扑前廉价失败，
// 而不是等到测量中途才暴露。
func ValidateAll(ctx context.Context, node emulation.Node, names []string) error {
	available, err := Available(ctx, node)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(available))
	for _, a := range available {
		known[a] = true
	}

	for _, name := range names {
		if !known[name] {
			return &UnsupportedAlgorithmError{Name: name, Available: available}
		}
	}
	return nil
}

// Configure 把算法绑定到发送端的协议栈
//
// 绑定对该发送端在本次运行的剩余时间内持续生效。
func Configure(ctx context.Context, sender emulation.Node, name string) error {
	if err := ValidateAll(ctx, sender, []string{name}); err != nil {
		return err
	}

	arg := fmt.Sprintf("%s=%s", currentSysctl, name)
	if _, err := sender.Run(ctx, "sysctl", "-w", arg); err != nil {
		return fmt.Errorf("绑定算法 %s 到 %s 失败: %w", name, sender.Name(), err)
	}
	return nil
}
