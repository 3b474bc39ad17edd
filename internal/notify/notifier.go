package notify

import "context"

// OperationEvent is the body of every operation lifecycle notification.
type OperationEvent struct {
	OperationID string   `json:"operation_id"`
	Name        string   `json:"name"`
	Stage       string   `json:"stage"`
	Message     string   `json:"message,omitempty"`
	ReportURL   string   `json:"report_url,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
}

// Notifier is the narrow surface the operation pipeline emits through.
type Notifier interface {
	OperationChanged(ctx context.Context, event OperationEvent) error
	ReportWritten(ctx context.Context, event OperationEvent) error
	VerificationFailed(ctx context.Context, event OperationEvent) error
}

type producerNotifier struct {
	producer *Producer
}

func NewNotifier(p *Producer) Notifier {
	return &producerNotifier{producer: p}
}

func (n *producerNotifier) OperationChanged(ctx context.Context, event OperationEvent) error {
	return n.producer.Write(ctx, OperationMessageKind, event)
}

func (n *producerNotifier) ReportWritten(ctx context.Context, event OperationEvent) error {
	return n.producer.Write(ctx, ReportMessageKind, event)
}

func (n *producerNotifier) VerificationFailed(ctx context.Context, event OperationEvent) error {
	return n.producer.Write(ctx, VerificationMessageKind, event)
}

// NopNotifier drops every notification. Used in tests and when no broker is
// configured.
type NopNotifier struct{}

func (NopNotifier) OperationChanged(context.Context, OperationEvent) error   { return nil }
func (NopNotifier) ReportWritten(context.Context, OperationEvent) error      { return nil }
func (NopNotifier) VerificationFailed(context.Context, OperationEvent) error { return nil }
