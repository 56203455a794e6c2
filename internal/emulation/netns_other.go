// =============================================================================
// 文件: internal/emulation/netns_other.go
// 描述: 非 Linux 平台的底座占位实现
// =============================================================================
//go:build !linux

package emulation

import (
	"fmt"
	"runtime"

	"github.com/mrcgq/ccsweep/internal/logx"
)

// NewNetnsSubstrate 非 Linux 平台不提供底座实现
func NewNetnsSubstrate(log *logx.Logger) (Substrate, error) {
	return nil, fmt.Errorf("仿真底座仅支持 linux，当前系统: %s", runtime.GOOS)
}
