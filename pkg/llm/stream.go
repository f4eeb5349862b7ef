package llm

import (
	"context"
	"strings"
)

// TokenStream delivers generated text increments in order. The channel is
// unbuffered, so a slow reader holds back the producer.
type TokenStream struct {
	deltas chan string
	err    error
}

// NewTokenStream runs producer on its own goroutine. emit blocks until the
// reader takes the increment or ctx is done; empty increments are dropped.
func NewTokenStream(ctx context.Context, producer func(ctx context.Context, emit func(string) error) error) *TokenStream {
	s := &TokenStream{deltas: make(chan string)}

	go func() {
		err := producer(ctx, func(delta string) error {
			if delta == "" {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case s.deltas <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			err = ctx.Err()
		}
		s.err = err
		close(s.deltas)
	}()

	return s
}

// Deltas is closed when generation ends for any reason.
func (s *TokenStream) Deltas() <-chan string { return s.deltas }

// Err reports why the stream ended. Only valid after Deltas is closed.
func (s *TokenStream) Err() error { return s.err }

// Collect drains the stream and returns the concatenated text.
func (s *TokenStream) Collect() (string, error) {
	var b strings.Builder
	for delta := range s.deltas {
		b.WriteString(delta)
	}
	return b.String(), s.err
}
