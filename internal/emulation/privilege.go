// =============================================================================
// 文件: internal/emulation/privilege.go
// 描述: 权限探测 - 在分配任何虚拟网络资源之前确认具备管理网络的权限
// =============================================================================
package emulation

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// CAP_NET_ADMIN 网络管理 capability 位
const capNetAdmin = 12

// CheckPrivileges 探测当前进程能否操作网络命名空间和 tc
//
// root 或持有 CAP_NET_ADMIN 均可。探测失败意味着任何拓扑都无法构建，
// 调用方应在启动扫描之前失败退出。
func CheckPrivileges() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("仿真底座仅支持 linux，当前系统: %s", runtime.GOOS)
	}

	if os.Geteuid() == 0 {
		return nil
	}

	if hasCapNetAdmin() {
		return nil
	}

	return fmt.Errorf("权限不足: 需要 root 或 CAP_NET_ADMIN 才能创建网络命名空间")
}

// hasCapNetAdmin 从 /proc/self/status 读取有效 capability 集合
func hasCapNetAdmin() bool {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		hex := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		eff, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return false
		}
		return eff&(1<<capNetAdmin) != 0
	}
	return false
}
