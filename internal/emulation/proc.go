// =============================================================================
// 文件: internal/emulation/proc.go
// 描述: 受管子进程 - 封装 exec.Cmd 的启动、输出采集和退出等待
// =============================================================================
package emulation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// execProc 基于 exec.Cmd 的 Proc 实现
type execProc struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	done chan struct{}
	err  error

	mu sync.Mutex
}

// startProc 启动子进程并开始等待退出
func startProc(ctx context.Context, name string, args ...string) (*execProc, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	p := &execProc{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 %s 失败: %w", name, err)
	}

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

func (p *execProc) PID() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *execProc) Done() <-chan struct{} {
	return p.done
}

func (p *execProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProc) Output() []byte {
	return p.stdout.Bytes()
}

func (p *execProc) StderrOutput() []byte {
	return p.stderr.Bytes()
}

func (p *execProc) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("进程未启动")
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProc) Kill() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("进程未启动")
	}
	return p.cmd.Process.Kill()
}
