package uci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
)

// Loader turns an ordered candidate list into one ready Session.
type Loader struct {
	dialer Dialer
	logger *zap.Logger
}

func NewLoader(dialer Dialer, logger *zap.Logger) *Loader {
	if dialer == nil {
		dialer = &DefaultDialer{}
	}
	if logger == nil {
		logger = obslog.L()
	}
	return &Loader{dialer: dialer, logger: logger}
}

// Load tries sources strictly in order and returns the first session that
// reaches readyok. Failed candidates are terminated before the next one is
// tried. When every candidate failed the error is a *NoEngineError.
func (l *Loader) Load(ctx context.Context, sources []Source, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	attempts := make([]error, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		session, err := l.attempt(ctx, src, opt)
		if err == nil {
			l.logger.Info("engine_loaded",
				zap.String("source", src.String()),
				zap.Int("candidate", i),
				zap.Duration("took", time.Since(start)),
			)
			return session, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		l.logger.Warn("engine_candidate_failed",
			zap.String("source", src.String()),
			zap.Int("candidate", i),
			zap.Error(err),
		)
		attempts = append(attempts, err)
	}
	return nil, &NoEngineError{Attempts: attempts}
}

// LoadAsync runs Load on its own goroutine and reports through done.
func (l *Loader) LoadAsync(ctx context.Context, sources []Source, opt Options, done func(*Session, error)) {
	go func() {
		session, err := l.Load(ctx, sources, opt)
		done(session, err)
	}()
}

func (l *Loader) attempt(ctx context.Context, src Source, opt Options) (*Session, error) {
	session, err := Spawn(ctx, src, opt, l.dialer, l.logger)
	if err != nil {
		return nil, err
	}
	if err := session.AwaitReady(ctx); err != nil {
		_ = session.Terminate()
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return session, nil
}
