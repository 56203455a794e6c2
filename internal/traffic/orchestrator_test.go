// =============================================================================
// 文件: internal/traffic/orchestrator_test.go
// 描述: 流量编排测试 - 错峰启动、超时强杀、单流失败隔离
// =============================================================================
package traffic

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mrcgq/ccsweep/internal/emulation"
	"github.com/mrcgq/ccsweep/internal/logx"
)

// =============================================================================
// 假进程 / 假节点 / 假生成器
// =============================================================================

type fakeProc struct {
	done   chan struct{}
	closed bool
	err    error
	out    []byte
	errOut []byte

	sigs         []os.Signal
	killed       bool
	sigErr       error
	exitOnSignal bool

	mu sync.Mutex
}

func newFakeProc(out []byte) *fakeProc {
	return &fakeProc{done: make(chan struct{}), out: out}
}

func (p *fakeProc) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.done)
}

func (p *fakeProc) PID() int              { return 4242 }
func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProc) Output() []byte       { return p.out }
func (p *fakeProc) StderrOutput() []byte { return p.errOut }

func (p *fakeProc) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.sigs = append(p.sigs, sig)
	sigErr := p.sigErr
	exitOnSignal := p.exitOnSignal
	p.mu.Unlock()

	if sigErr != nil {
		return sigErr
	}
	if exitOnSignal {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("killed"))
	return nil
}

func (p *fakeProc) terminated() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type fakeNode struct {
	name string
	ip   string
}

func (n *fakeNode) Name() string { return n.name }
func (n *fakeNode) IP() string   { return n.ip }
func (n *fakeNode) Run(ctx context.Context, name string, args ...string) (string, error) {
	return "", nil
}
func (n *fakeNode) StartProc(ctx context.Context, name string, args ...string) (emulation.Proc, error) {
	return nil, errors.New("不支持")
}
func (n *fakeNode) ReapProcesses() error { return nil }

type clientLaunch struct {
	port int
	at   time.Time
}

type fakeGen struct {
	servers []int
	clients []clientLaunch

	serverErrPort int
	clientErrPort int

	// makeClient 为每条流构造客户端进程，nil 时返回立即完成的进程
	makeClient func(port int) *fakeProc

	procs map[int]*fakeProc

	mu sync.Mutex
}

func newFakeGen() *fakeGen {
	return &fakeGen{procs: make(map[int]*fakeProc)}
}

func (g *fakeGen) StartServer(ctx context.Context, node emulation.Node, port int) (emulation.Proc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if port == g.serverErrPort {
		return nil, errors.New("端口被占用")
	}
	g.servers = append(g.servers, port)

	p := newFakeProc(nil)
	p.exitOnSignal = true
	return p, nil
}

func (g *fakeGen) StartClient(ctx context.Context, node emulation.Node, target string, port int, duration time.Duration) (emulation.Proc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if port == g.clientErrPort {
		return nil, errors.New("生成器可执行文件缺失")
	}
	g.clients = append(g.clients, clientLaunch{port: port, at: time.Now()})

	var p *fakeProc
	if g.makeClient != nil {
		p = g.makeClient(port)
	} else {
		p = newFakeProc([]byte(`{"intervals":[]}`))
		p.exit(nil)
	}
	g.procs[port] = p
	return p, nil
}

func (g *fakeGen) launches() []clientLaunch {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]clientLaunch, len(g.clients))
	copy(out, g.clients)
	return out
}

func testFlows(offset2, duration time.Duration) []Flow {
	h1 := &fakeNode{name: "h1", ip: "10.0.0.1"}
	h2 := &fakeNode{name: "h2", ip: "10.0.0.2"}
	h3 := &fakeNode{name: "h3", ip: "10.0.0.3"}
	h4 := &fakeNode{name: "h4", ip: "10.0.0.4"}
	return []Flow{
		{ID: "flow1", Sender: h1, Receiver: h2, Algorithm: "cubic", Duration: duration, Port: 5201},
		{ID: "flow2", Sender: h3, Receiver: h4, Algorithm: "cubic", Offset: offset2, Duration: duration, Port: 5202},
	}
}

func byID(results []FlowResult) map[string]FlowResult {
	m := make(map[string]FlowResult, len(results))
	for _, r := range results {
		m[r.Flow.ID] = r
	}
	return m
}

func testLogger() *logx.Logger {
	return logx.New(logx.LevelError, "[test]")
}

// =============================================================================
// 测试
// =============================================================================

func TestRunFlowsCompleted(t *testing.T) {
	gen := newFakeGen()
	gen.makeClient = func(port int) *fakeProc {
		p := newFakeProc([]byte(`{"intervals":[{"sum":{"end":1}}]}`))
		time.AfterFunc(20*time.Millisecond, func() { p.exit(nil) })
		return p
	}

	orch := New(gen, time.Second, testLogger())
	results := orch.RunFlows(context.Background(), testFlows(0, 100*time.Millisecond))

	if len(results) != 2 {
		t.Fatalf("结果数错误: got %d, want 2", len(results))
	}
	for id, r := range byID(results) {
		if r.Status != StatusCompleted {
			t.Errorf("流 %s 状态错误: got %s, want %s", id, r.Status, StatusCompleted)
		}
		if len(r.Output) == 0 {
			t.Errorf("流 %s 输出为空", id)
		}
	}

	if len(gen.servers) != 2 {
		t.Errorf("服务端数错误: got %d, want 2", len(gen.servers))
	}
}

func TestRunFlowsStaggeredStart(t *testing.T) {
	offset := 150 * time.Millisecond
	gen := newFakeGen()
	gen.makeClient = func(port int) *fakeProc {
		p := newFakeProc([]byte(`{}`))
		p.exit(nil)
		return p
	}

	orch := New(gen, time.Second, testLogger())
	orch.RunFlows(context.Background(), testFlows(offset, 10*time.Millisecond))

	launches := gen.launches()
	if len(launches) != 2 {
		t.Fatalf("客户端启动数错误: got %d, want 2", len(launches))
	}

	// 按偏移顺序启动
	if launches[0].port != 5201 || launches[1].port != 5202 {
		t.Errorf("启动顺序错误: %v", launches)
	}

	// 第二条流至少等够偏移（留调度余量）
	gap := launches[1].at.Sub(launches[0].at)
	if gap < offset-20*time.Millisecond {
		t.Errorf("错峰间隔不足: got %v, want >= %v", gap, offset)
	}
}

func TestRunFlowsTimeout(t *testing.T) {
	var proc *fakeProc
	gen := newFakeGen()
	gen.makeClient = func(port int) *fakeProc {
		// 永不自行退出，但响应 SIGTERM
		proc = newFakeProc([]byte(`partial-output`))
		proc.errOut = []byte("iperf3: interrupt - the client has terminated")
		proc.exitOnSignal = true
		return proc
	}

	orch := New(gen, 30*time.Millisecond, testLogger())
	flows := testFlows(0, 30*time.Millisecond)[:1]
	results := orch.RunFlows(context.Background(), flows)

	if results[0].Status != StatusTimeout {
		t.Fatalf("状态错误: got %s, want %s", results[0].Status, StatusTimeout)
	}
	if !proc.terminated() {
		t.Error("超时流的进程未被终止")
	}

	proc.mu.Lock()
	gotTerm := false
	for _, s := range proc.sigs {
		if s == syscall.SIGTERM {
			gotTerm = true
		}
	}
	proc.mu.Unlock()
	if !gotTerm {
		t.Error("超时流未收到 SIGTERM")
	}

	// 部分输出依然保留
	if string(results[0].Output) != "partial-output" {
		t.Errorf("超时流应保留部分输出: %q", results[0].Output)
	}

	// 标准错误随结果带回，供运行记录诊断
	if !strings.Contains(string(results[0].Stderr), "iperf3: interrupt") {
		t.Errorf("超时流应携带标准错误: %q", results[0].Stderr)
	}
}

func TestStderrTailTruncated(t *testing.T) {
	proc := newFakeProc(nil)
	proc.errOut = []byte(strings.Repeat("x", 5000) + "tail-end")
	proc.exit(nil)

	got := stderrTail(proc)
	if len(got) != stderrTailLimit {
		t.Errorf("末尾长度错误: got %d, want %d", len(got), stderrTailLimit)
	}
	if !strings.HasSuffix(string(got), "tail-end") {
		t.Errorf("应保留末尾内容: %q", got[len(got)-16:])
	}
}

func TestRunFlowsSignalFailureFallsBackToKill(t *testing.T) {
	var proc *fakeProc
	gen := newFakeGen()
	gen.makeClient = func(port int) *fakeProc {
		proc = newFakeProc(nil)
		proc.sigErr = errors.New("进程不存在")
		return proc
	}

	orch := New(gen, 20*time.Millisecond, testLogger())
	flows := testFlows(0, 20*time.Millisecond)[:1]
	results := orch.RunFlows(context.Background(), flows)

	if results[0].Status != StatusTimeout {
		t.Fatalf("状态错误: got %s, want %s", results[0].Status, StatusTimeout)
	}
	proc.mu.Lock()
	killed := proc.killed
	proc.mu.Unlock()
	if !killed {
		t.Error("SIGTERM 失败后应 SIGKILL")
	}
}

func TestRunFlowsLaunchFailureIsolated(t *testing.T) {
	t.Run("客户端启动失败", func(t *testing.T) {
		gen := newFakeGen()
		gen.clientErrPort = 5202
		gen.makeClient = func(port int) *fakeProc {
			p := newFakeProc([]byte(`ok`))
			p.exit(nil)
			return p
		}

		orch := New(gen, time.Second, testLogger())
		results := byID(orch.RunFlows(context.Background(), testFlows(0, 10*time.Millisecond)))

		if results["flow1"].Status != StatusCompleted {
			t.Errorf("flow1 应照常完成: got %s", results["flow1"].Status)
		}
		if results["flow2"].Status != StatusLaunchFailed {
			t.Errorf("flow2 应标记启动失败: got %s", results["flow2"].Status)
		}

		var launchErr *LaunchError
		if !errors.As(results["flow2"].Err, &launchErr) {
			t.Errorf("期望 LaunchError, got %v", results["flow2"].Err)
		}
	})

	t.Run("服务端启动失败", func(t *testing.T) {
		gen := newFakeGen()
		gen.serverErrPort = 5202
		gen.makeClient = func(port int) *fakeProc {
			p := newFakeProc([]byte(`ok`))
			p.exit(nil)
			return p
		}

		orch := New(gen, time.Second, testLogger())
		results := byID(orch.RunFlows(context.Background(), testFlows(0, 10*time.Millisecond)))

		if results["flow1"].Status != StatusCompleted {
			t.Errorf("flow1 应照常完成: got %s", results["flow1"].Status)
		}
		if results["flow2"].Status != StatusLaunchFailed {
			t.Errorf("flow2 应标记启动失败: got %s", results["flow2"].Status)
		}

		// 服务端没起来，客户端不应被启动
		for _, l := range gen.launches() {
			if l.port == 5202 {
				t.Error("服务端失败的流不应启动客户端")
			}
		}
	})
}

func TestRunFlowsCancelled(t *testing.T) {
	gen := newFakeGen()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	orch := New(gen, time.Second, testLogger())
	// 偏移远大于取消时点，流会在等待启动时被取消
	results := orch.RunFlows(ctx, testFlows(5*time.Second, time.Second)[1:])

	if results[0].Status != StatusAborted {
		t.Errorf("状态错误: got %s, want %s", results[0].Status, StatusAborted)
	}
	if len(gen.launches()) != 0 {
		t.Error("被取消的流不应启动客户端")
	}
}
