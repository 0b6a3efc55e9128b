package service

import (
	"errors"
	"sync"
	"time"
)

// ErrTokenStreamStalled 表示上游模型长时间没有产出新 token。
var ErrTokenStreamStalled = errors.New("token stream stalled")

// defaultTokenTimeout 是等待下一个 token 的兜底超时。
// 协议本身只在整个请求层面限时，但上游卡死会让连接无限挂起，
// 这里做防御性处理。
const defaultTokenTimeout = 90 * time.Second

// TokenStream 把模型的流式输出抽象成一条 token 通道：
// 生产方逐个推入文本片段，消费方按序取出；
// 通道关闭即流结束，错误通过 Err 在关闭后带外给出。
type TokenStream struct {
	tokens      chan string
	done        chan struct{}
	abandonOnce sync.Once
	err         error
}

func newTokenStream() *TokenStream {
	return &TokenStream{
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Tokens 返回按模型产出顺序排列的 token 通道。
func (s *TokenStream) Tokens() <-chan string {
	return s.tokens
}

// Err 返回流的终止原因，仅在通道关闭后读取有效。
func (s *TokenStream) Err() error {
	return s.err
}

// push 投递一个 token。消费方已放弃整条流时返回 false，
// 生产方此时应停止读取并释放上游连接。
func (s *TokenStream) push(token string) bool {
	select {
	case s.tokens <- token:
		return true
	case <-s.done:
		return false
	}
}

// abandon 声明消费方不再读取，让阻塞中的 push 立即返回。
func (s *TokenStream) abandon() {
	s.abandonOnce.Do(func() { close(s.done) })
}

// finish 记录终止原因并关闭通道。err 先于 close 写入，
// 消费方在通道关闭后读取 Err 是安全的。
func (s *TokenStream) finish(err error) {
	s.err = err
	close(s.tokens)
}

// drainTokens 逐 token 消费整条流：每个 token 回调一次 fn，
// 超过 timeout 没有新 token 视为上游卡死。
// 返回拼接后的完整文本。
func drainTokens(stream *TokenStream, timeout time.Duration, fn func(token string) error) (string, error) {
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	// 任何一条提前返回的路径都要解除生产方的投递阻塞
	defer stream.abandon()

	var builder []byte
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case token, ok := <-stream.Tokens():
			if !ok {
				if err := stream.Err(); err != nil {
					return string(builder), err
				}
				return string(builder), nil
			}
			builder = append(builder, token...)
			if fn != nil {
				if err := fn(token); err != nil {
					return string(builder), err
				}
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-timer.C:
			return string(builder), ErrTokenStreamStalled
		}
	}
}
