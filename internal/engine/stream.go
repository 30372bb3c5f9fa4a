package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// GenerateStream runs Generate on a background goroutine and delivers
// fragments over a channel. Delivery never blocks the generation
// worker: fragments are queued in order and drained as the consumer
// reads. The channel closes when generation ends; the returned wait
// function reports the final text and error.
func (e *Engine) GenerateStream(ctx context.Context, prompt string, cfg SamplingConfig) (<-chan string, func() (string, error)) {
	in := make(chan string)
	out := make(chan string)
	go bridge(in, out)

	g, gctx := errgroup.WithContext(ctx)
	var final string
	g.Go(func() error {
		defer close(in)
		text, err := e.Generate(gctx, prompt, cfg, func(frag string) {
			in <- frag
		})
		final = text
		return err
	})

	wait := func() (string, error) {
		err := g.Wait()
		return final, err
	}
	return out, wait
}

// bridge forwards fragments from in to out through an unbounded queue
// so a slow consumer never stalls the producer.
func bridge(in <-chan string, out chan<- string) {
	defer close(out)
	var queue []string
	for in != nil || len(queue) > 0 {
		var send chan<- string
		var head string
		if len(queue) > 0 {
			send = out
			head = queue[0]
		}
		select {
		case frag, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, frag)
		case send <- head:
			queue = queue[1:]
		}
	}
}
