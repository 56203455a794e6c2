// =============================================================================
// 文件: cmd/ccsweep/main.go
// 描述: 主程序入口 - 加载配置、启动指标服务并驱动扫描控制器
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mrcgq/ccsweep/internal/config"
	"github.com/mrcgq/ccsweep/internal/emulation"
	"github.com/mrcgq/ccsweep/internal/logx"
	"github.com/mrcgq/ccsweep/internal/metrics"
	"github.com/mrcgq/ccsweep/internal/sweep"
	"github.com/mrcgq/ccsweep/internal/traffic"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")

	// 扫描参数（覆盖配置文件）
	algorithms := flag.String("algorithms", "", "待测算法 (逗号分隔，如 reno,cubic)")
	delays := flag.String("delays", "", "瓶颈时延毫秒值 (逗号分隔，如 21,81,162)")
	iperfRuntime := flag.Int("iperf-runtime", 0, "每条流的运行时长 (秒)")
	iperfDelayedStart := flag.Int("iperf-delayed-start", -1, "第二条流的启动偏移 (秒)")
	logLevel := flag.String("log-level", "", "日志级别: error/info/debug")
	outDir := flag.String("out", "", "运行记录输出目录")
	runTest := flag.Bool("run-test", false, "只跑冒烟测试，不做全量扫描")
	metricsListen := flag.String("metrics-listen", "", "启用并监听 Prometheus 指标地址 (如 :9100)")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	// 加载配置（文件不存在时退回默认值，全部由命令行控制）
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	// 命令行覆盖
	if *algorithms != "" {
		cfg.Algorithms = splitTrim(*algorithms)
	}
	if *delays != "" {
		ds, err := parseInts(*delays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "无效的 -delays: %v\n", err)
			os.Exit(1)
		}
		cfg.DelaysMs = ds
	}
	if *iperfRuntime > 0 {
		cfg.Iperf.RuntimeSec = *iperfRuntime
	}
	if *iperfDelayedStart >= 0 {
		cfg.Iperf.DelayedStartSec = *iperfDelayedStart
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *runTest {
		cfg.RunTest = true
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	level, err := logx.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	logger := logx.New(level, "[Main]")

	// 底座不可用（权限不足、非 Linux）时扫描无法开始
	sub, err := emulation.NewNetnsSubstrate(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "仿真底座不可用: %v\n", err)
		os.Exit(1)
	}

	// 指标服务
	var sm *metrics.SweepMetrics
	var ms *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		ms = metrics.NewMetricsServer(cfg.Metrics.Listen, cfg.Metrics.Path,
			cfg.Metrics.HealthPath, cfg.Metrics.EnablePprof)
		sm = metrics.NewSweepMetrics(ms.Registry())
		if err := ms.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "启动指标服务失败: %v\n", err)
			os.Exit(1)
		}
		defer ms.Stop()
		logger.Infof("指标服务已启动: %s", cfg.Metrics.Listen)
	}

	// 中断信号转成上下文取消，取消会先完成当前运行的释放再停止
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("收到信号 %v，等待当前运行释放后停止", sig)
		cancel()
	}()

	ctrl := sweep.New(cfg, sub, &traffic.IperfGenerator{}, sm, logger)

	if ms != nil {
		startedAt := time.Now()
		ms.SetHealthCheck(func() metrics.HealthStatus {
			progress := ctrl.Progress()
			return metrics.HealthStatus{
				Status:     "healthy",
				Timestamp:  time.Now(),
				Uptime:     time.Since(startedAt).Round(time.Second).String(),
				CurrentRun: string(ctrl.State()),
				RunsDone:   progress.Completed + progress.Partial,
				RunsFailed: progress.Failed,
			}
		})
	}

	if cfg.RunTest {
		if err := ctrl.RunSmokeTest(ctx); err != nil {
			logger.Errorf("冒烟测试失败: %v", err)
			os.Exit(1)
		}
		return
	}

	summary, err := ctrl.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Infof("扫描被取消: %s", summary)
			os.Exit(1)
		}
		logger.Errorf("扫描失败: %v", err)
		os.Exit(1)
	}

	// 单个组合的失败已记录在案，不算异常退出
	logger.Infof("%s", summary.String())
}

// loadConfig 加载配置，文件缺席时使用默认配置
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	parts := splitTrim(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func printVersion() {
	fmt.Printf("ccsweep %s\n", Version)
	fmt.Printf("  构建时间: %s\n", BuildTime)
	fmt.Printf("  提交: %s\n", GitCommit)
	fmt.Printf("  Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
