// =============================================================================
// 文件: internal/config/config.go
// 描述: 扫描配置管理 - 算法/时延矩阵、链路参数、生成器参数的加载和校验
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	// 待测拥塞控制算法，每次运行为每个发送端各绑定一个
	Algorithms []string `yaml:"algorithms"`

	// 瓶颈链路单向传播时延扫描值 (毫秒)
	DelaysMs []int `yaml:"delays_ms"`

	LogLevel  string `yaml:"log_level"`
	OutputDir string `yaml:"output_dir"`
	RunTest   bool   `yaml:"run_test"`

	Iperf   IperfConfig   `yaml:"iperf"`
	Link    LinkConfig    `yaml:"link"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IperfConfig 流量生成器配置
type IperfConfig struct {
	// 每条流的运行时长 (秒)
	RuntimeSec int `yaml:"runtime_sec"`

	// 第二条及以后的流相对运行起点的启动偏移 (秒)
	DelayedStartSec int `yaml:"delayed_start_sec"`

	// 超出时长后允许生成器自行退出的宽限期 (秒)
	GraceSec int `yaml:"grace_sec"`

	// 第一条流的服务端端口，后续流依次 +1
	BasePort int `yaml:"base_port"`
}

// LinkConfig 链路参数配置，带宽单位 Mbps
type LinkConfig struct {
	BottleneckMbps int `yaml:"bottleneck_mbps"`
	AccessMbps     int `yaml:"access_mbps"`
	HostMbps       int `yaml:"host_mbps"`

	// 接入链路队列长度 (包)
	QueueLen int `yaml:"queue_len"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
//
// 链路默认值取自被比较实验的哑铃参数：骨干 984Mbps，
// 接入 250Mbps + 1000 包队列，主机 960Mbps，时延 21/81/162ms。
func DefaultConfig() *Config {
	return &Config{
		Algorithms: []string{"reno", "cubic"},
		DelaysMs:   []int{21, 81, 162},
		LogLevel:   "info",
		OutputDir:  "results",

		Iperf: IperfConfig{
			RuntimeSec:      60,
			DelayedStartSec: 5,
			GraceSec:        10,
			BasePort:        5201,
		},

		Link: LinkConfig{
			BottleneckMbps: 984,
			AccessMbps:     250,
			HostMbps:       960,
			QueueLen:       1000,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Algorithms) == 0 {
		return fmt.Errorf("algorithms 不能为空")
	}
	seen := make(map[string]bool)
	for _, alg := range c.Algorithms {
		name := strings.TrimSpace(alg)
		if name == "" {
			return fmt.Errorf("algorithms 含空算法名")
		}
		if seen[name] {
			return fmt.Errorf("algorithms 含重复算法: %s", name)
		}
		seen[name] = true
	}

	if len(c.DelaysMs) == 0 {
		return fmt.Errorf("delays_ms 不能为空")
	}
	for _, d := range c.DelaysMs {
		if d < 0 {
			return fmt.Errorf("delays_ms 含负值: %d", d)
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "error", "info", "debug":
	default:
		return fmt.Errorf("无效的日志级别: %s (支持: error, info, debug)", c.LogLevel)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir 不能为空")
	}

	if c.Iperf.RuntimeSec < 1 {
		return fmt.Errorf("iperf.runtime_sec 需大于 0")
	}
	if c.Iperf.DelayedStartSec < 0 {
		return fmt.Errorf("iperf.delayed_start_sec 不能为负数")
	}
	if c.Iperf.GraceSec < 1 {
		return fmt.Errorf("iperf.grace_sec 需大于 0")
	}
	if c.Iperf.BasePort < 1 || c.Iperf.BasePort > 65535 {
		return fmt.Errorf("无效的 iperf.base_port: %d", c.Iperf.BasePort)
	}

	if c.Link.BottleneckMbps < 1 {
		return fmt.Errorf("link.bottleneck_mbps 需大于 0")
	}
	if c.Link.AccessMbps < 1 {
		return fmt.Errorf("link.access_mbps 需大于 0")
	}
	if c.Link.HostMbps < 1 {
		return fmt.Errorf("link.host_mbps 需大于 0")
	}
	if c.Link.QueueLen < 1 {
		return fmt.Errorf("link.queue_len 需大于 0")
	}

	if c.Metrics.Enabled {
		if _, err := parsePort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path 必须以 / 开头")
		}
		if !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics.health_path 必须以 / 开头")
		}
	}

	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# ccsweep 配置文件示例
# =============================================================================

# 待测拥塞控制算法
# 同一次运行内每个发送端各绑定一个算法，算法集合整体与各时延组合成扫描矩阵。
# 可用算法由宿主内核决定 (net.ipv4.tcp_available_congestion_control)。
algorithms:
  - reno
  - cubic

# 瓶颈链路单向传播时延扫描值 (毫秒)
delays_ms:
  - 21
  - 81
  - 162

log_level: "info"                   # 日志级别: error, info, debug
output_dir: "results"               # 每次运行一个 JSON 记录文件
run_test: false                     # true 时只跑连通性冒烟测试，不做全量扫描

# 流量生成器 (iperf3)
iperf:
  runtime_sec: 60                   # 每条流运行时长 (秒)
  delayed_start_sec: 5              # 第二条及以后的流的启动偏移 (秒)
  grace_sec: 10                     # 到时后的退出宽限期 (秒)
  base_port: 5201                   # 第一条流的服务端端口，后续依次 +1

# 哑铃链路参数
link:
  bottleneck_mbps: 984              # 骨干 (瓶颈) 链路带宽
  access_mbps: 250                  # 接入链路带宽
  host_mbps: 960                    # 主机链路带宽
  queue_len: 1000                   # 接入链路队列长度 (包)

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
