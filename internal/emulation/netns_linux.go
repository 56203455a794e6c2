// =============================================================================
// 文件: internal/emulation/netns_linux.go
// 描述: 基于网络命名空间的底座实现 - 用 ip/tc 命令驱动 netns、网桥和 veth
// =============================================================================
//go:build linux

package emulation

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/mrcgq/ccsweep/internal/logx"
)

// 资源名前缀，保证 Stop 时能按名清理，不影响宿主机其它接口
const nsPrefix = "ccs"

// NetnsSubstrate 网络命名空间底座
//
// 主机 = 独立 netns，交换机 = 根命名空间里的 linux bridge，
// 链路 = veth 对，链路参数通过 htb + netem 应用在两个端点上。
type NetnsSubstrate struct {
	log *logx.Logger

	hosts    []*netnsNode
	switches []*netnsNode
	veths    []string
	linkSeq  int
	nextIP   int
	stopped  bool

	mu sync.Mutex
}

// netnsNode 底座节点
type netnsNode struct {
	sub    *NetnsSubstrate
	name   string
	ns     string // 主机的命名空间名，交换机为空
	bridge string // 交换机的网桥名，主机为空
	ip     string

	procs []*execProc
	mu    sync.Mutex
}

// NewNetnsSubstrate 创建 netns 底座
func NewNetnsSubstrate(log *logx.Logger) (Substrate, error) {
	if err := CheckPrivileges(); err != nil {
		return nil, err
	}
	return &NetnsSubstrate{
		log:    log.WithPrefix("[Netns]"),
		nextIP: 1,
	}, nil
}

// HostNode 返回根命名空间节点
func (s *NetnsSubstrate) HostNode() Node {
	return &netnsNode{sub: s, name: "host"}
}

// AddHost 创建主机：独立命名空间 + 管理地址
func (s *NetnsSubstrate) AddHost(name string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := fmt.Sprintf("%s-%s", nsPrefix, name)
	if _, err := rootRun(context.Background(), "ip", "netns", "add", ns); err != nil {
		return nil, fmt.Errorf("创建命名空间 %s 失败: %w", ns, err)
	}

	node := &netnsNode{
		sub:  s,
		name: name,
		ns:   ns,
		ip:   fmt.Sprintf("10.0.0.%d", s.nextIP),
	}
	s.nextIP++
	s.hosts = append(s.hosts, node)

	s.log.Debugf("已创建主机 %s (ns=%s, ip=%s)", name, ns, node.ip)
	return node, nil
}

// AddSwitch 创建交换机：根命名空间里的网桥
func (s *NetnsSubstrate) AddSwitch(name string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bridge := fmt.Sprintf("%s-%s", nsPrefix, name)
	if _, err := rootRun(context.Background(), "ip", "link", "add", "name", bridge, "type", "bridge"); err != nil {
		return nil, fmt.Errorf("创建网桥 %s 失败: %w", bridge, err)
	}
	if _, err := rootRun(context.Background(), "ip", "link", "set", bridge, "up"); err != nil {
		return nil, fmt.Errorf("启用网桥 %s 失败: %w", bridge, err)
	}

	node := &netnsNode{
		sub:    s,
		name:   name,
		bridge: bridge,
	}
	s.switches = append(s.switches, node)

	s.log.Debugf("已创建交换机 %s (bridge=%s)", name, bridge)
	return node, nil
}

// AddLink 创建 veth 链路并在两端应用链路参数
func (s *NetnsSubstrate) AddLink(a, b Node, params LinkParams) error {
	s.mu.Lock()
	seq := s.linkSeq
	s.linkSeq++
	s.mu.Unlock()

	na, ok := a.(*netnsNode)
	if !ok {
		return fmt.Errorf("节点 %s 不属于本底座", a.Name())
	}
	nb, ok := b.(*netnsNode)
	if !ok {
		return fmt.Errorf("节点 %s 不属于本底座", b.Name())
	}

	// 接口名受 IFNAMSIZ 限制，用序号而不是节点名
	ifA := fmt.Sprintf("%sv%da", nsPrefix, seq)
	ifB := fmt.Sprintf("%sv%db", nsPrefix, seq)

	ctx := context.Background()
	if _, err := rootRun(ctx, "ip", "link", "add", ifA, "type", "veth", "peer", "name", ifB); err != nil {
		return fmt.Errorf("创建 veth %s/%s 失败: %w", ifA, ifB, err)
	}

	// 删网桥只会释放被挂接的端口，veth 本身要在 Stop 里逐条删除
	s.mu.Lock()
	s.veths = append(s.veths, ifA)
	s.mu.Unlock()

	if err := s.attachEndpoint(ctx, na, ifA, params); err != nil {
		return err
	}
	if err := s.attachEndpoint(ctx, nb, ifB, params); err != nil {
		return err
	}

	s.log.Debugf("已创建链路 %s<->%s (rate=%dMbps delay=%v queue=%d)",
		a.Name(), b.Name(), params.RateMbps, params.Delay, params.QueueLen)
	return nil
}

// attachEndpoint 把 veth 端点挂到节点上并应用 tc 参数
func (s *NetnsSubstrate) attachEndpoint(ctx context.Context, n *netnsNode, ifname string, params LinkParams) error {
	if n.bridge != "" {
		if _, err := rootRun(ctx, "ip", "link", "set", ifname, "master", n.bridge); err != nil {
			return fmt.Errorf("挂接 %s 到网桥 %s 失败: %w", ifname, n.bridge, err)
		}
		if _, err := rootRun(ctx, "ip", "link", "set", ifname, "up"); err != nil {
			return fmt.Errorf("启用 %s 失败: %w", ifname, err)
		}
		return applyTC(ctx, nil, ifname, params)
	}

	// 主机端点：移入命名空间、配地址、起链路
	if _, err := rootRun(ctx, "ip", "link", "set", ifname, "netns", n.ns); err != nil {
		return fmt.Errorf("移动 %s 到 %s 失败: %w", ifname, n.ns, err)
	}
	steps := [][]string{
		{"ip", "addr", "add", n.ip + "/24", "dev", ifname},
		{"ip", "link", "set", ifname, "up"},
		{"ip", "link", "set", "lo", "up"},
	}
	for _, step := range steps {
		if _, err := n.Run(ctx, step[0], step[1:]...); err != nil {
			return fmt.Errorf("配置主机 %s 端点失败: %w", n.name, err)
		}
	}
	return applyTC(ctx, n, ifname, params)
}

// applyTC 应用带宽/时延/队列参数（htb 限速 + netem 时延）
func applyTC(ctx context.Context, n *netnsNode, ifname string, params LinkParams) error {
	queue := params.QueueLen
	if queue <= 0 {
		queue = 1000
	}
	delayMs := params.Delay.Milliseconds()

	cmds := [][]string{
		{"tc", "qdisc", "add", "dev", ifname, "root", "handle", "1:", "htb", "default", "1"},
		{"tc", "class", "add", "dev", ifname, "parent", "1:", "classid", "1:1",
			"htb", "rate", fmt.Sprintf("%dmbit", params.RateMbps)},
		{"tc", "qdisc", "add", "dev", ifname, "parent", "1:1", "handle", "10:",
			"netem", "delay", fmt.Sprintf("%dms", delayMs), "limit", strconv.Itoa(queue)},
	}
	for _, c := range cmds {
		var err error
		if n != nil {
			_, err = n.Run(ctx, c[0], c[1:]...)
		} else {
			_, err = rootRun(ctx, c[0], c[1:]...)
		}
		if err != nil {
			return fmt.Errorf("应用 tc 参数到 %s 失败: %w", ifname, err)
		}
	}
	return nil
}

// Start 启动网络
func (s *NetnsSubstrate) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 节点和链路在创建时已生效，这里做一次可达性自检
	for _, h := range s.hosts {
		if _, err := h.Run(ctx, "ip", "addr", "show"); err != nil {
			return fmt.Errorf("主机 %s 不可用: %w", h.name, err)
		}
	}
	s.stopped = false
	s.log.Infof("网络已启动: %d 主机, %d 交换机", len(s.hosts), len(s.switches))
	return nil
}

// Stop 释放全部资源，幂等
func (s *NetnsSubstrate) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	// 先回收进程再删命名空间，避免残留进程把 netns 钉住
	for _, h := range s.hosts {
		if err := h.ReapProcesses(); err != nil {
			s.log.Errorf("回收主机 %s 进程失败: %v", h.name, err)
		}
		if _, err := rootRun(ctx, "ip", "netns", "del", h.ns); err != nil {
			s.log.Errorf("删除命名空间 %s 失败: %v", h.ns, err)
		}
	}
	// 交换机之间的 veth 两端都在根命名空间，不随任何 netns 销毁；
	// 主机侧的链路这时通常已随命名空间一起消失，删除失败不算错误
	for _, v := range s.veths {
		if _, err := rootRun(ctx, "ip", "link", "del", v); err != nil {
			s.log.Debugf("删除链路 %s: %v", v, err)
		}
	}

	for _, sw := range s.switches {
		if _, err := rootRun(ctx, "ip", "link", "del", sw.bridge); err != nil {
			s.log.Errorf("删除网桥 %s 失败: %v", sw.bridge, err)
		}
	}

	s.hosts = nil
	s.switches = nil
	s.veths = nil
	s.linkSeq = 0
	s.nextIP = 1
	s.stopped = true
	s.log.Infof("网络已释放")
	return nil
}

// =============================================================================
// 节点实现
// =============================================================================

func (n *netnsNode) Name() string { return n.name }

func (n *netnsNode) IP() string { return n.ip }

// Run 在节点内执行命令并等待结束
func (n *netnsNode) Run(ctx context.Context, name string, args ...string) (string, error) {
	full := n.wrap(name, args)
	return rootRun(ctx, full[0], full[1:]...)
}

// StartProc 在节点内启动长运行进程
func (n *netnsNode) StartProc(ctx context.Context, name string, args ...string) (Proc, error) {
	full := n.wrap(name, args)
	p, err := startProc(ctx, full[0], full[1:]...)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.procs = append(n.procs, p)
	n.mu.Unlock()
	return p, nil
}

// wrap 把命令包装进节点的命名空间
func (n *netnsNode) wrap(name string, args []string) []string {
	if n.ns == "" {
		return append([]string{name}, args...)
	}
	return append([]string{"ip", "netns", "exec", n.ns, name}, args...)
}

// ReapProcesses 杀掉节点上所有已知进程和命名空间内残留进程
func (n *netnsNode) ReapProcesses() error {
	n.mu.Lock()
	procs := n.procs
	n.procs = nil
	n.mu.Unlock()

	for _, p := range procs {
		select {
		case <-p.Done():
		default:
			p.Kill()
		}
	}

	if n.ns == "" {
		return nil
	}

	// 命名空间内可能有不经 StartProc 启动的子进程（如生成器 fork 出来的）
	out, err := rootRun(context.Background(), "ip", "netns", "pids", n.ns)
	if err != nil {
		return fmt.Errorf("枚举 %s 内进程失败: %w", n.ns, err)
	}
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// rootRun 在根命名空间执行命令，失败时把 stderr 带进错误。
// 变量形式便于测试替换成假命令执行器。
var rootRun = func(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("%s: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}
