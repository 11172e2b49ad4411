package blockparse

import "context"

// ParseStream drives a Parser over a channel of text fragments (the shape
// a provider.Chunk.Text stream naturally produces), emitting Events in
// arrival order and closing the output channel once in is drained or ctx
// is canceled. This is the channel-oriented counterpart to Feed/Close for
// callers already working in the agent loop's streaming idiom.
func ParseStream(ctx context.Context, cfg Config, in <-chan string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		p := New(cfg)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-in:
				if !ok {
					for _, ev := range p.Close() {
						select {
						case out <- ev:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				for _, ev := range p.Feed(chunk) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
