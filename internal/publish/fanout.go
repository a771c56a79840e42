package publish

import "flowengine/internal/model"

// Port is the subset of signalmanager.PublishPort this package's
// sinks implement; declared locally so publish never imports
// signalmanager (it would cycle back: signalmanager -> publish would
// be fine, but engine wires both, and publish has no need to know
// about the manager's internals beyond this single method).
type Port interface {
	Publish(model.ProcessedSignal)
}

// Fanout combines multiple publish sinks behind a single PublishPort,
// so the engine can hand the signal manager one dependency that
// writes to Kafka, broadcasts over SSE, and fires webhooks.
type Fanout struct {
	sinks []Port
}

// NewFanout builds a Fanout over the given sinks. Callers building an
// optional sink (e.g. a webhook notifier only wired in production)
// should omit it from the slice entirely rather than pass a typed nil
// — a nil *WebhookNotifier boxed into the Port interface is not a nil
// interface and would panic on Publish.
func NewFanout(sinks ...Port) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish implements signalmanager.PublishPort, delivering to every
// configured sink. Each sink is responsible for its own timeout and
// failure handling; one sink's failure never blocks the others.
func (f *Fanout) Publish(p model.ProcessedSignal) {
	for _, s := range f.sinks {
		s.Publish(p)
	}
}
