// Package logging provides structured logging field helpers shared across
// the incident core so every component attaches the same attribute names.
package logging

import "github.com/sirupsen/logrus"

// Fields is a chainable builder over logrus.Fields for the common
// attributes components attach to log lines: component, operation, resource,
// incident, and stage.
type Fields logrus.Fields

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

// Component tags the subsystem emitting the log line.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation tags the specific call in progress.
func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

// Resource tags the external resource a log line concerns.
func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	f["resource_name"] = name
	return f
}

// Incident tags the owning incident id.
func (f Fields) Incident(id string) Fields {
	f["incident_id"] = id
	return f
}

// Stage tags the IncidentCoordinator stage in progress.
func (f Fields) Stage(stage string) Fields {
	f["stage"] = stage
	return f
}

// Err attaches an error under the conventional "error" key.
func (f Fields) Err(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// Logrus converts to the logrus.Fields type expected by WithFields.
func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f)
}
