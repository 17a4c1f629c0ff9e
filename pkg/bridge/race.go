package bridge

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// LoopExit reports which loop ended the bridge and why.
type LoopExit struct {
	Loop string
	Err  error
}

func (e *LoopExit) Error() string {
	if e.Err == nil {
		return e.Loop + " exited"
	}
	return fmt.Sprintf("%s exited: %v", e.Loop, e.Err)
}

func (e *LoopExit) Unwrap() error {
	return e.Err
}

type loop struct {
	name string
	run  func(ctx context.Context) error
}

// race runs every loop until the first one returns, then cancels the
// rest and waits for them. onCancel runs once the shared context is
// cancelled so loops blocked outside the context can be released.
func race(ctx context.Context, onCancel func(), loops ...loop) *LoopExit {
	g, gctx := errgroup.WithContext(ctx)
	if onCancel != nil {
		stop := context.AfterFunc(gctx, onCancel)
		defer stop()
	}

	for _, l := range loops {
		l := l
		g.Go(func() error {
			err := l.run(gctx)
			log.Debugf("%s returned: %v", l.name, err)
			return &LoopExit{Loop: l.name, Err: err}
		})
	}

	var exit *LoopExit
	if !errors.As(g.Wait(), &exit) {
		exit = &LoopExit{Loop: "bridge"}
	}
	log.Infof("%v: shutting down", exit)
	return exit
}
