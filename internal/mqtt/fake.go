package mqtt

// Message is one published message.
type Message struct {
	Topic   string
	Payload []byte
}

// FakeClient records published messages for test assertions.
type FakeClient struct {
	// Messages contains every message passed to Publish.
	Messages []Message

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Subscriptions maps subscribed topics to their handlers.
	Subscriptions map[string]Handler

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{Subscriptions: make(map[string]Handler)}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	f.Messages = append(f.Messages, Message{Topic: topic, Payload: p})
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Subscribe records the handler.
func (f *FakeClient) Subscribe(topic string, h Handler) error {
	if f.Subscriptions == nil {
		f.Subscriptions = make(map[string]Handler)
	}
	f.Subscriptions[topic] = h
	return nil
}

// Deliver invokes the handler subscribed to topic, as the broker would.
// It reports whether a handler was found.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	h, ok := f.Subscriptions[topic]
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// On returns the payloads published on topic, as strings.
func (f *FakeClient) On(topic string) []string {
	var out []string
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages and events.
func (f *FakeClient) Reset() {
	f.Messages = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
