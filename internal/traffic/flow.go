// =============================================================================
// 文件: internal/traffic/flow.go
// 描述: 流定义 - 一条绑定了拥塞控制算法的发送端到接收端的测试流
// =============================================================================
package traffic

import (
	"fmt"
	"time"

	"github.com/mrcgq/ccsweep/internal/emulation"
)

// Status 流的终态
type Status string

const (
	// StatusCompleted 生成器在时限内自行退出
	StatusCompleted Status = "completed"

	// StatusTimeout 超过时长加宽限期仍未退出，被强制终止
	StatusTimeout Status = "timeout"

	// StatusLaunchFailed 生成器进程启动失败
	StatusLaunchFailed Status = "launch_failed"

	// StatusAborted 运行被外部取消
	StatusAborted Status = "aborted"
)

// Flow 一条测试流
//
// 同一次运行内每个发送端最多承载一条活跃流。
type Flow struct {
	ID        string
	Sender    emulation.Node
	Receiver  emulation.Node
	Algorithm string

	// 相对运行起点的启动偏移
	Offset time.Duration

	// 生成器运行时长
	Duration time.Duration

	// 接收端服务端口
	Port int
}

// FlowResult 一条流的执行结果
//
// 启动失败或超时都只标记这条流，其它流照常执行并保留各自的输出。
type FlowResult struct {
	Flow   Flow
	Status Status

	// 生成器标准输出，交给采集器解析
	Output []byte

	// 生成器标准错误的末尾片段，用于诊断失败的流
	Stderr []byte

	// 失败原因，成功时为 nil
	Err error
}

// LaunchError 生成器启动失败
type LaunchError struct {
	FlowID string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("流 %s 生成器启动失败: %v", e.FlowID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
