// =============================================================================
// 文件: internal/logx/logx.go
// 描述: 分级日志 - 各组件共享同一套日志级别和输出格式
// =============================================================================
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
)

var levelPrefix = map[Level]string{
	LevelError: "[ERROR]",
	LevelInfo:  "[INFO]",
	LevelDebug: "[DEBUG]",
}

// ParseLevel 解析日志级别字符串
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("无效的日志级别: %s (支持: error, info, debug)", s)
	}
}

// Logger 带组件前缀的分级日志器
type Logger struct {
	level  Level
	prefix string
	out    io.Writer

	mu sync.Mutex
}

// New 创建日志器
func New(level Level, prefix string) *Logger {
	return &Logger{
		level:  level,
		prefix: prefix,
		out:    os.Stdout,
	}
}

// WithPrefix 派生一个新组件前缀的日志器，级别和输出保持一致
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		level:  l.level,
		prefix: prefix,
		out:    l.out,
	}
}

// SetOutput 设置输出目标（测试用）
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// Errorf 错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Infof 信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debugf 调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level > l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.out, "%s %s %s %s\n",
		levelPrefix[level],
		time.Now().Format("15:04:05"),
		l.prefix,
		fmt.Sprintf(format, args...))
}
