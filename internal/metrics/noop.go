package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncSignup(outcome string)                   {}
func (n *NoopRecorder) IncLogin(outcome string)                    {}
func (n *NoopRecorder) IncPasswordReset(outcome string)            {}
func (n *NoopRecorder) IncEmailCheck(outcome string)               {}
func (n *NoopRecorder) IncEmailCacheHit()                          {}
func (n *NoopRecorder) IncEmailCacheMiss()                         {}
func (n *NoopRecorder) IncEmailCacheError()                        {}
func (n *NoopRecorder) ObserveHashDuration(duration time.Duration) {}
