// =============================================================================
// 文件: internal/collector/resultset.go
// 描述: 结果集 - 全扫描范围内按 (运行, 流) 键控的只追加采样存储
// =============================================================================
package collector

import (
	"fmt"
	"sync"
)

// Sample 一个测量点，记录后不可变
type Sample struct {
	// 相对运行起点的时间 (秒)
	Timestamp float64 `json:"t"`

	// 区间平均吞吐 (bit/s)
	ThroughputBps float64 `json:"throughput_bps"`

	// 区间传输字节数 (goodput)
	Bytes int64 `json:"bytes"`

	// 区间重传次数
	Retransmits int `json:"retransmits,omitempty"`
}

// DuplicateSampleError 同一 (运行, 流, 时间戳) 被重复记录
//
// 这是编排错误（例如重复收割）的信号，必须向上传播，绝不吞掉。
type DuplicateSampleError struct {
	RunID     string
	FlowID    string
	Timestamp float64
}

func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("重复采样: run=%s flow=%s t=%.3f", e.RunID, e.FlowID, e.Timestamp)
}

type flowKey struct {
	runID  string
	flowID string
}

type sampleKey struct {
	flowKey
	timestamp float64
}

// ResultSet 扫描级结果集
//
// 唯一允许并发写入的结构：各流的工作协程并发追加，
// 互斥锁加 (运行, 流, 时间戳) 唯一键保证无写写冲突。
// 扫描结束后只读。
type ResultSet struct {
	samples map[flowKey][]Sample
	seen    map[sampleKey]bool

	mu sync.Mutex
}

// NewResultSet 创建空结果集
func NewResultSet() *ResultSet {
	return &ResultSet{
		samples: make(map[flowKey][]Sample),
		seen:    make(map[sampleKey]bool),
	}
}

// Record 追加一条流的采样序列
//
// 只追加，不覆盖。任一 (运行, 流, 时间戳) 已存在即整批拒绝。
func (rs *ResultSet) Record(runID, flowID string, samples []Sample) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	fk := flowKey{runID: runID, flowID: flowID}
	for _, s := range samples {
		if rs.seen[sampleKey{flowKey: fk, timestamp: s.Timestamp}] {
			return &DuplicateSampleError{RunID: runID, FlowID: flowID, Timestamp: s.Timestamp}
		}
	}

	for _, s := range samples {
		rs.seen[sampleKey{flowKey: fk, timestamp: s.Timestamp}] = true
	}
	rs.samples[fk] = append(rs.samples[fk], samples...)
	return nil
}

// Samples 返回一条流的采样序列副本，保持记录顺序
func (rs *ResultSet) Samples(runID, flowID string) []Sample {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	src := rs.samples[flowKey{runID: runID, flowID: flowID}]
	out := make([]Sample, len(src))
	copy(out, src)
	return out
}

// Len 已记录的采样总数
func (rs *ResultSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	n := 0
	for _, s := range rs.samples {
		n += len(s)
	}
	return n
}
