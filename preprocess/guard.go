package preprocess

import (
	"k8s.io/klog/v2"
)

// releaser is one acquired resource and how to give it back.
type releaser struct {
	name    string
	release func() error
}

// cleanupStack releases acquired resources in reverse order of acquisition.
//
// Every acquisition is pushed right after it succeeds, and a deferred rewind releases whatever was acquired,
// on every exit path.
type cleanupStack struct {
	releasers []releaser
}

func (s *cleanupStack) push(name string, release func() error) {
	s.releasers = append(s.releasers, releaser{name: name, release: release})
}

// rewind releases everything pushed, last first. All releases are attempted, failures are logged, and the
// first one is returned.
func (s *cleanupStack) rewind() error {
	var firstErr error
	for ii := len(s.releasers) - 1; ii >= 0; ii-- {
		r := s.releasers[ii]
		if err := r.release(); err != nil {
			klog.Errorf("preprocess: failed to release %s: %+v", r.name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		klog.V(3).Infof("preprocess: released %s", r.name)
	}
	s.releasers = nil
	return firstErr
}

