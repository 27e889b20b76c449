package relay

import "context"

// None 单实例部署使用的空中转
type None struct{}

func (None) Publish(context.Context, Envelope) error { return nil }

// Subscribe 等待 ctx 取消
func (None) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (None) Close() error { return nil }
