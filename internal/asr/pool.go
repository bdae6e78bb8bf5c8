package asr

import "log/slog"

// Pool bounds the number of concurrently running backend invocations
// across all sessions, independent of connection count.
type Pool struct {
	sem    chan struct{}
	logger *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		logger: logger.With(slog.String("component", "asr-pool")),
	}
}

// Submit schedules task against the pool. The call never blocks; the task
// waits for a free slot on its own goroutine. A panicking task is logged
// and absorbed so one misbehaving backend cannot take the daemon down.
func (p *Pool) Submit(task func()) {
	go func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("backend task panicked", slog.Any("panic", r))
			}
		}()
		task()
	}()
}
