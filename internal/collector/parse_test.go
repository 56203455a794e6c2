// =============================================================================
// 文件: internal/collector/parse_test.go
// 描述: 生成器输出解析测试
// =============================================================================
package collector

import (
	"errors"
	"testing"
)

// 截取自 iperf3 -J 报告的最小结构
const sampleReport = `{
  "intervals": [
    {"sum": {"start": 0, "end": 1.0, "bytes": 1250000, "bits_per_second": 10000000.0, "retransmits": 2, "omitted": false}},
    {"sum": {"start": 1.0, "end": 2.0, "bytes": 2500000, "bits_per_second": 20000000.0, "retransmits": 0, "omitted": false}},
    {"sum": {"start": 2.0, "end": 3.0, "bytes": 2400000, "bits_per_second": 19200000.0, "retransmits": 1, "omitted": false}}
  ],
  "end": {}
}`

func TestParse(t *testing.T) {
	t.Run("正常报告", func(t *testing.T) {
		samples, err := Parse([]byte(sampleReport))
		if err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if len(samples) != 3 {
			t.Fatalf("采样数错误: got %d, want 3", len(samples))
		}
		if samples[0].Timestamp != 1.0 || samples[0].ThroughputBps != 10000000.0 {
			t.Errorf("首个采样错误: %+v", samples[0])
		}
		if samples[0].Retransmits != 2 {
			t.Errorf("重传数错误: got %d, want 2", samples[0].Retransmits)
		}
		if samples[1].Bytes != 2500000 {
			t.Errorf("字节数错误: got %d, want 2500000", samples[1].Bytes)
		}
	})

	t.Run("时间戳单调不减", func(t *testing.T) {
		samples, err := Parse([]byte(sampleReport))
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(samples); i++ {
			if samples[i].Timestamp < samples[i-1].Timestamp {
				t.Errorf("时间戳乱序: samples[%d]=%.1f < samples[%d]=%.1f",
					i, samples[i].Timestamp, i-1, samples[i-1].Timestamp)
			}
		}
	})

	t.Run("跳过预热区间", func(t *testing.T) {
		raw := `{"intervals": [
			{"sum": {"start": 0, "end": 1.0, "bytes": 100, "bits_per_second": 800.0, "omitted": true}},
			{"sum": {"start": 1.0, "end": 2.0, "bytes": 200, "bits_per_second": 1600.0, "omitted": false}}
		]}`
		samples, err := Parse([]byte(raw))
		if err != nil {
			t.Fatal(err)
		}
		if len(samples) != 1 {
			t.Fatalf("应跳过 omitted 区间: got %d 个采样", len(samples))
		}
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"空输出", ""},
		{"非JSON", "iperf3: error - unable to connect"},
		{"无采样区间", `{"intervals": [], "end": {}}`},
		{"生成器自报错误", `{"error": "unable to connect to server", "intervals": []}`},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			var malErr *MalformedOutputError
			if !errors.As(err, &malErr) {
				t.Errorf("期望 MalformedOutputError, got %v", err)
			}
		})
	}
}

func TestShiftTimestamps(t *testing.T) {
	samples := []Sample{{Timestamp: 1.0}, {Timestamp: 2.0}}
	ShiftTimestamps(samples, 5.0)
	if samples[0].Timestamp != 6.0 || samples[1].Timestamp != 7.0 {
		t.Errorf("偏移叠加错误: %+v", samples)
	}
}
