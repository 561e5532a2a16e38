package event

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrTransformContract is raised when the routes table sends a broker key to
// a kind whose default transform does not accept that key. It means the two
// tables have drifted out of sync and is a programming error, not bad input.
var ErrTransformContract = errors.New("broker key not allowed for outbound kind")

// transform builds one outbound event from the decoded node of a broker
// message.
type transform func(brokerKey string, node interface{}) (Event, error)

// brokerKeys is the closed set of broker-side event identifiers, i.e. the
// root element names the backend publishes. The naming is irregular on the
// wire; it is reproduced here verbatim.
var brokerKeys = map[string]bool{
	"update_pending_list":     true,
	"lab-request-started":     true,
	"lab-request-complete":    true,
	"instrument-run-progress": true,
	"instrument-status":       true,
	"reagent-status":          true,
	"qc-result":               true,
	"qc-result-recalculated":  true,
	"media-burner-state":      true,
	"notification":            true,
	"usb-state":               true,
}

// routes maps a broker key to the outbound kinds it produces, in order. One
// message may fan out to several events.
var routes = map[string][]Kind{
	"update_pending_list":     {KindPendingRequestsUpdated},
	"lab-request-started":     {KindRunningLabRequestsUpdated},
	"lab-request-complete":    {KindRecentResultsUpdated, KindRunningLabRequestsUpdated, KindLabRequestComplete},
	"instrument-run-progress": {KindRunningLabRequestsUpdated, KindInstrumentRunProgress},
	"instrument-status":       {KindInstrumentStatusUpdated},
	"reagent-status":          {KindReagentStatusUpdated},
	"qc-result":               {KindQCResultUpdated},
	"qc-result-recalculated":  {KindQCResultUpdated},
	"media-burner-state":      {KindMediaBurnerUpdated},
	"notification":            {KindNotificationCreated},
	"usb-state":               {KindUSBUpdated},
}

// defaultSources lists, per kind served by the default spread transform, the
// broker keys allowed to produce it.
var defaultSources = map[Kind]map[string]bool{
	KindPendingRequestsUpdated:  {"update_pending_list": true},
	KindRecentResultsUpdated:    {"lab-request-complete": true},
	KindLabRequestComplete:      {"lab-request-complete": true},
	KindInstrumentStatusUpdated: {"instrument-status": true},
	KindQCResultUpdated:         {"qc-result": true, "qc-result-recalculated": true},
	KindUSBUpdated:              {"usb-state": true},
	KindRunningLabRequestsUpdated: {
		"lab-request-started":     true,
		"lab-request-complete":    true,
		"instrument-run-progress": true,
	},
}

// transforms holds the custom per-kind transforms. Kinds absent here fall
// back to the default spread transform.
var transforms = map[Kind]transform{
	KindInstrumentRunProgress: transformInstrumentRunProgress,
	KindReagentStatusUpdated:  transformReagentStatus,
	KindMediaBurnerUpdated:    transformMediaBurner,
	KindNotificationCreated:   transformNotification,
}

// Dispatcher converts decoded event trees into outbound events.
type Dispatcher struct {
	logger *zap.Logger
}

// NewDispatcher creates new dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Dispatch produces zero or more outbound events for one decoded broker
// message. Unknown broker event identifiers are dropped silently; a
// transform-contract violation returns an error for the caller to log.
func (d *Dispatcher) Dispatch(tree map[string]interface{}) ([]Event, error) {
	if len(tree) == 0 {
		d.logger.Debug("empty event tree")
		return nil, nil
	}

	var brokerKey string
	var node interface{}
	for k, v := range tree {
		brokerKey, node = k, v
		break
	}
	if !brokerKeys[brokerKey] {
		d.logger.Debug("unknown broker event", zap.String("key", brokerKey))
		return nil, nil
	}
	kinds, ok := routes[brokerKey]
	if !ok {
		return nil, nil
	}

	events := make([]Event, 0, len(kinds))
	for _, kind := range kinds {
		t, ok := transforms[kind]
		if !ok {
			t = spreadTransform(kind)
		}
		ev, err := t(brokerKey, node)
		if err != nil {
			return nil, fmt.Errorf("dispatch %q: %w", brokerKey, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// spreadTransform is the default transform: spread the matched node and set
// the id, provided the broker key is allowed to produce this kind.
func spreadTransform(kind Kind) transform {
	return func(brokerKey string, node interface{}) (Event, error) {
		if !defaultSources[kind][brokerKey] {
			return Event{}, fmt.Errorf("%w: %q -> %q", ErrTransformContract, brokerKey, kind)
		}
		return Event{ID: kind, Fields: spreadFields(node)}, nil
	}
}

func spreadFields(node interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	if m, ok := node.(map[string]interface{}); ok {
		for k, v := range m {
			fields[k] = v
		}
	}
	return fields
}

// transformInstrumentRunProgress lifts the run identifier out of its legacy
// element and exposes it under a client-facing name.
func transformInstrumentRunProgress(_ string, node interface{}) (Event, error) {
	fields := spreadFields(node)
	if id, ok := fields["instrumentrun-id"]; ok {
		delete(fields, "instrumentrun-id")
		fields["instrumentRunId"] = id
	}
	return Event{ID: KindInstrumentRunProgress, Fields: fields}, nil
}

// transformReagentStatus normalizes the reagent field to always-an-array;
// the decoder leaves it scalar when a single reagent is reported.
func transformReagentStatus(_ string, node interface{}) (Event, error) {
	fields := spreadFields(node)
	if r, ok := fields["reagent"]; ok {
		if _, isList := r.([]interface{}); !isList {
			fields["reagent"] = []interface{}{r}
		}
	}
	return Event{ID: KindReagentStatusUpdated, Fields: fields}, nil
}

// transformMediaBurner forces the burner state code to string form; bare
// digit codes would otherwise arrive as numbers.
func transformMediaBurner(_ string, node interface{}) (Event, error) {
	fields := spreadFields(node)
	if state, ok := fields["state"]; ok {
		fields["state"] = fmt.Sprintf("%v", state)
	}
	return Event{ID: KindMediaBurnerUpdated, Fields: fields}, nil
}

// transformNotification keeps only the identifying fields; clients fetch the
// rest of the notification over the REST surface.
func transformNotification(_ string, node interface{}) (Event, error) {
	src := spreadFields(node)
	fields := map[string]interface{}{}
	if id, ok := src["notification-id"]; ok {
		fields["notificationId"] = id
	}
	if subject, ok := src["subject"]; ok {
		fields["subject"] = subject
	}
	return Event{ID: KindNotificationCreated, Fields: fields}, nil
}
