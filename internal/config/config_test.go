// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在扫描开始前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("扫描矩阵默认值", func(t *testing.T) {
		if len(cfg.Algorithms) != 2 || cfg.Algorithms[0] != "reno" || cfg.Algorithms[1] != "cubic" {
			t.Errorf("Algorithms 默认值错误: got %v, want [reno cubic]", cfg.Algorithms)
		}
		if len(cfg.DelaysMs) != 3 || cfg.DelaysMs[0] != 21 || cfg.DelaysMs[1] != 81 || cfg.DelaysMs[2] != 162 {
			t.Errorf("DelaysMs 默认值错误: got %v, want [21 81 162]", cfg.DelaysMs)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
	})

	t.Run("链路默认值", func(t *testing.T) {
		if cfg.Link.BottleneckMbps != 984 {
			t.Errorf("Link.BottleneckMbps 默认值错误: got %d, want 984", cfg.Link.BottleneckMbps)
		}
		if cfg.Link.AccessMbps != 250 {
			t.Errorf("Link.AccessMbps 默认值错误: got %d, want 250", cfg.Link.AccessMbps)
		}
		if cfg.Link.HostMbps != 960 {
			t.Errorf("Link.HostMbps 默认值错误: got %d, want 960", cfg.Link.HostMbps)
		}
		if cfg.Link.QueueLen != 1000 {
			t.Errorf("Link.QueueLen 默认值错误: got %d, want 1000", cfg.Link.QueueLen)
		}
	})

	t.Run("生成器默认值", func(t *testing.T) {
		if cfg.Iperf.RuntimeSec != 60 {
			t.Errorf("Iperf.RuntimeSec 默认值错误: got %d, want 60", cfg.Iperf.RuntimeSec)
		}
		if cfg.Iperf.DelayedStartSec != 5 {
			t.Errorf("Iperf.DelayedStartSec 默认值错误: got %d, want 5", cfg.Iperf.DelayedStartSec)
		}
		if cfg.Iperf.GraceSec != 10 {
			t.Errorf("Iperf.GraceSec 默认值错误: got %d, want 10", cfg.Iperf.GraceSec)
		}
		if cfg.Iperf.BasePort != 5201 {
			t.Errorf("Iperf.BasePort 默认值错误: got %d, want 5201", cfg.Iperf.BasePort)
		}
	})

	t.Run("默认配置可通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"空算法列表", func(c *Config) { c.Algorithms = nil }, "algorithms"},
		{"空算法名", func(c *Config) { c.Algorithms = []string{"reno", " "} }, "空算法名"},
		{"重复算法", func(c *Config) { c.Algorithms = []string{"cubic", "cubic"} }, "重复算法"},
		{"空时延列表", func(c *Config) { c.DelaysMs = nil }, "delays_ms"},
		{"负时延", func(c *Config) { c.DelaysMs = []int{21, -1} }, "负值"},
		{"无效日志级别", func(c *Config) { c.LogLevel = "verbose" }, "日志级别"},
		{"空输出目录", func(c *Config) { c.OutputDir = "" }, "output_dir"},
		{"运行时长为零", func(c *Config) { c.Iperf.RuntimeSec = 0 }, "runtime_sec"},
		{"负启动偏移", func(c *Config) { c.Iperf.DelayedStartSec = -1 }, "delayed_start_sec"},
		{"宽限期为零", func(c *Config) { c.Iperf.GraceSec = 0 }, "grace_sec"},
		{"无效端口", func(c *Config) { c.Iperf.BasePort = 70000 }, "base_port"},
		{"瓶颈带宽为零", func(c *Config) { c.Link.BottleneckMbps = 0 }, "bottleneck_mbps"},
		{"队列长度为零", func(c *Config) { c.Link.QueueLen = 0 }, "queue_len"},
		{"监控端口格式错误", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = "bad"
		}, "metrics.listen"},
		{"监控路径不以斜杠开头", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("期望校验失败，实际通过")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("错误信息不匹配: got %q, want 包含 %q", err.Error(), tc.wantErr)
			}
		})
	}
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	t.Run("正常加载并覆盖默认值", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
algorithms:
  - bbr
delays_ms:
  - 10
iperf:
  runtime_sec: 30
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}
		if len(cfg.Algorithms) != 1 || cfg.Algorithms[0] != "bbr" {
			t.Errorf("Algorithms 未覆盖: got %v", cfg.Algorithms)
		}
		if cfg.Iperf.RuntimeSec != 30 {
			t.Errorf("Iperf.RuntimeSec 未覆盖: got %d", cfg.Iperf.RuntimeSec)
		}
		// 未出现的字段保持默认
		if cfg.Iperf.BasePort != 5201 {
			t.Errorf("Iperf.BasePort 应保持默认: got %d", cfg.Iperf.BasePort)
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("期望加载失败，实际通过")
		}
	})

	t.Run("非法YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("algorithms: [unclosed"), 0644)
		if _, err := Load(path); err == nil {
			t.Error("期望解析失败，实际通过")
		}
	})

	t.Run("加载后校验不通过", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		os.WriteFile(path, []byte("delays_ms: [-5]"), 0644)
		if _, err := Load(path); err == nil {
			t.Error("期望校验失败，实际通过")
		}
	})
}

func TestGenerateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写示例配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应能直接加载: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("示例配置应能通过校验: %v", err)
	}
}
