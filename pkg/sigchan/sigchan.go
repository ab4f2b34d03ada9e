package sigchan

// Chan 非阻塞的信号 channel，只通知事件发生，不传数据。
// 用于把 OS 信号之类的"立即做一次"请求转给轮询循环。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号，channel 满时丢弃（永不阻塞）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回可供 select 的只读 channel
func (c *Chan) C() <-chan struct{} {
	return c.c
}
