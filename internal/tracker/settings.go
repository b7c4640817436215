package tracker

import (
	"sync/atomic"

	"github.com/MrWong99/flanker/pkg/flanking"
)

// Settings supplies evaluation options. The tracker reads them on every
// evaluation so configuration changes apply to the next event.
type Settings interface {
	Options() flanking.Options
}

// StaticSettings is a fixed [Settings] value.
type StaticSettings flanking.Options

// Options implements [Settings].
func (s StaticSettings) Options() flanking.Options { return flanking.Options(s) }

// AtomicSettings is a [Settings] that can be replaced while evaluations run.
// The zero value returns [flanking.DefaultOptions] until the first Store.
type AtomicSettings struct {
	p atomic.Pointer[flanking.Options]
}

// NewAtomicSettings returns settings initialised to opts.
func NewAtomicSettings(opts flanking.Options) *AtomicSettings {
	s := &AtomicSettings{}
	s.Store(opts)
	return s
}

// Options implements [Settings].
func (s *AtomicSettings) Options() flanking.Options {
	if o := s.p.Load(); o != nil {
		return *o
	}
	return flanking.DefaultOptions()
}

// Store replaces the current options.
func (s *AtomicSettings) Store(opts flanking.Options) {
	s.p.Store(&opts)
}
