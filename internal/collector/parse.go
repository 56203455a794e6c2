// =============================================================================
// 文件: internal/collector/parse.go
// 描述: 生成器输出解析 - 把 iperf3 JSON 报告转成按时间有序的采样序列
// =============================================================================
package collector

import (
	"encoding/json"
	"fmt"
)

// MalformedOutputError 生成器输出无法解析
//
// 解析失败只丢这条流的采样，不中断同一运行里其它流的采集。
type MalformedOutputError struct {
	Reason string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("生成器输出无法解析: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("生成器输出无法解析: %s", e.Reason)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// iperf3 -J 报告，只取需要的字段
type iperfReport struct {
	Intervals []struct {
		Sum struct {
			Start         float64 `json:"start"`
			End           float64 `json:"end"`
			Bytes         int64   `json:"bytes"`
			BitsPerSecond float64 `json:"bits_per_second"`
			Retransmits   int     `json:"retransmits"`
			Omitted       bool    `json:"omitted"`
		} `json:"sum"`
	} `json:"intervals"`
	Error string `json:"error"`
}

// Parse 解析一条流的原始输出
//
// 每个采样区间产出一个 Sample，时间戳取区间右端点，相对流自身的起点；
// 调用方负责叠加流的启动偏移换算成运行相对时间。末尾汇总不进序列。
func Parse(raw []byte) ([]Sample, error) {
	if len(raw) == 0 {
		return nil, &MalformedOutputError{Reason: "输出为空"}
	}

	var report iperfReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, &MalformedOutputError{Reason: "JSON 解码失败", Err: err}
	}

	if report.Error != "" {
		return nil, &MalformedOutputError{Reason: "生成器报告错误: " + report.Error}
	}

	if len(report.Intervals) == 0 {
		return nil, &MalformedOutputError{Reason: "报告不含采样区间"}
	}

	samples := make([]Sample, 0, len(report.Intervals))
	for _, iv := range report.Intervals {
		if iv.Sum.Omitted {
			continue
		}
		samples = append(samples, Sample{
			Timestamp:     iv.Sum.End,
			ThroughputBps: iv.Sum.BitsPerSecond,
			Bytes:         iv.Sum.Bytes,
			Retransmits:   iv.Sum.Retransmits,
		})
	}
	return samples, nil
}

// ShiftTimestamps 把流相对时间平移成运行相对时间
func ShiftTimestamps(samples []Sample, offsetSec float64) {
	for i := range samples {
		samples[i].Timestamp += offsetSec
	}
}
