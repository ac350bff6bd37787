package sigchan

import "sync/atomic"

// Chan 是一个非阻塞的信号 channel，用于广播"停止交易"这类事件。
// Emit 之后 Raised 永久为 true，等待方可以 select 其 C()。
type Chan struct {
	c      chan struct{}
	raised atomic.Bool
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞，channel 满则只置位标志）
func (c *Chan) Emit() {
	c.raised.Store(true)
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// Raised 检查信号是否已触发过（停止标志语义）
func (c *Chan) Raised() bool {
	return c.raised.Load()
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}
