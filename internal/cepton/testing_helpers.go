package cepton

import "sync"

// RecordingReceiver is a Receiver that stores every callback, for tests of
// packages that drive the engine.
type RecordingReceiver struct {
	mu      sync.Mutex
	Batches []RecordedBatch
	Events  []RecordedEvent
}

// RecordedBatch is one OnReceive call.
type RecordedBatch struct {
	Code   ErrorCode
	Handle SensorHandle
	Points []ImagePoint
}

// RecordedEvent is one OnEvent call.
type RecordedEvent struct {
	Code   ErrorCode
	Handle SensorHandle
	Info   SensorInfo
	Event  SensorEvent
}

// OnReceive implements Receiver.
func (r *RecordingReceiver) OnReceive(code ErrorCode, handle SensorHandle, points []ImagePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Batches = append(r.Batches, RecordedBatch{Code: code, Handle: handle, Points: append([]ImagePoint(nil), points...)})
}

// OnEvent implements Receiver.
func (r *RecordingReceiver) OnEvent(code ErrorCode, handle SensorHandle, info *SensorInfo, event SensorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := RecordedEvent{Code: code, Handle: handle, Event: event}
	if info != nil {
		ev.Info = *info
	}
	r.Events = append(r.Events, ev)
}

// BatchCount returns the number of OnReceive calls so far.
func (r *RecordingReceiver) BatchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Batches)
}

// EventKinds returns the recorded event kinds in order.
func (r *RecordingReceiver) EventKinds() []SensorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SensorEvent, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Event
	}
	return out
}

// SnapshotBatches returns a copy of the recorded batches.
func (r *RecordingReceiver) SnapshotBatches() []RecordedBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedBatch(nil), r.Batches...)
}
