package outbox

const (
	TypeAppointmentCreated   = "booking.appointment.created.v1"
	TypeAppointmentUpdated   = "booking.appointment.updated.v1"
	TypeAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// Event is the envelope written to outbox_events. The Kafka topic equals
// EventType and the message key is AggregateID.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
