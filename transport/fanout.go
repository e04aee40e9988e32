package transport

import (
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var _ io.WriteCloser = (*FanOut)(nil)

// FanOut copies every write to all of its targets. A target whose write
// fails is dropped, the rest carry on.
type FanOut struct {
	mu      sync.Mutex
	targets []io.WriteCloser
	log     *zap.Logger
}

func NewFanOut(log *zap.Logger, targets ...io.WriteCloser) *FanOut {
	if log == nil {
		log = zap.NewNop()
	}

	return &FanOut{
		targets: targets,
		log:     log,
	}
}

// Write blocks until every target accepted p.
func (f *FanOut) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.targets[:0]
	for _, t := range f.targets {
		if _, err := t.Write(p); err != nil {
			f.log.Debug("Dropping stream target", zap.Error(err))
			continue
		}

		kept = append(kept, t)
	}

	f.targets = kept

	return len(p), nil
}

// Close closes every remaining target.
func (f *FanOut) Close() (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.targets {
		err = multierr.Append(err, t.Close())
	}

	f.targets = nil

	return err
}

func (f *FanOut) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.targets)
}
