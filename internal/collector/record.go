// =============================================================================
// 文件: internal/collector/record.go
// 描述: 运行记录持久化 - 每次运行一个 JSON 文件，按算法/时延/流键控
// =============================================================================
package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunRecord 一次运行的完整记录
//
// 在运行进入采集/释放阶段时写出一次，之后不再改写。
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Algorithms []string  `json:"algorithms"`
	DelayMs    int       `json:"delay_ms"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`

	Flows []FlowRecord `json:"flows"`
}

// FlowRecord 运行内一条流的记录
type FlowRecord struct {
	FlowID      string   `json:"flow_id"`
	Algorithm   string   `json:"algorithm"`
	Sender      string   `json:"sender"`
	Receiver    string   `json:"receiver"`
	OffsetSec   float64  `json:"offset_sec"`
	DurationSec float64  `json:"duration_sec"`
	Status      string   `json:"status"`
	Error       string   `json:"error,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	Samples     []Sample `json:"samples"`
}

// WriteRunRecord 把运行记录写到输出目录，返回文件路径
func WriteRunRecord(dir string, rec *RunRecord) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化运行记录失败: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%s.json", sanitize(rec.RunID)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写运行记录失败: %w", err)
	}
	return path, nil
}

// sanitize 把运行标识转成安全的文件名片段
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
