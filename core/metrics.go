package core

import "context"

// NopMetricsRecorder is the default recorder: warden emits renewal, session
// and sweep metrics unconditionally, and hosts that do not care get this
// sink.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// cloneTags copies the tag map before handing it to a recorder, which may
// retain it past the call.
func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
