package event

import "encoding/json"

// Kind is the discriminant of a client-facing event. The push stream uses it
// both as the "id" field of the payload and as the stream event tag.
type Kind string

const (
	KindPendingRequestsUpdated    Kind = "pending_requests_updated"
	KindRecentResultsUpdated      Kind = "recent_results_updated"
	KindRunningLabRequestsUpdated Kind = "running_lab_requests_updated"
	KindLabRequestComplete        Kind = "lab_request_complete"
	KindInstrumentRunProgress     Kind = "instrument_run_progress"
	KindInstrumentStatusUpdated   Kind = "instrument_status_updated"
	KindReagentStatusUpdated      Kind = "reagent_status_updated"
	KindQCResultUpdated           Kind = "qc_result_updated"
	KindMediaBurnerUpdated        Kind = "media_burner_updated"
	KindNotificationCreated       Kind = "notification_created"
	KindUSBUpdated                Kind = "usb_updated"

	// KindBackendConnection is synthesized by the upstream monitor; it never
	// appears in the dispatch table.
	KindBackendConnection Kind = "backend_connection"
)

// Event is one typed outbound event. The transform registered for its kind
// is the sole authority for the shape of Fields.
type Event struct {
	ID     Kind
	Fields map[string]interface{}
}

// MarshalJSON flattens the event into a single JSON object carrying the id
// discriminant next to the kind-specific fields.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["id"] = string(e.ID)
	return json.Marshal(m)
}
