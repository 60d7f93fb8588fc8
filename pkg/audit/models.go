package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Outcomes of an audited call.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// JSONStringSlice stores a string list in a text column as JSON.
type JSONStringSlice []string

func (s *JSONStringSlice) Scan(value any) error { return scanJSONColumn(value, s) }

func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return jsonColumnValue(s)
}

// JSONAny stores free-form event metadata in a text column as JSON.
type JSONAny map[string]any

func (m *JSONAny) Scan(value any) error { return scanJSONColumn(value, m) }

func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonColumnValue(m)
}

func scanJSONColumn(value, dst any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dst)
	}
}

func jsonColumnValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AuditEventRecord is one audited API call.
type AuditEventRecord struct {
	ID            string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	CorrelationID string          `gorm:"column:correlation_id;size:64;index"`
	RequestID     string          `gorm:"column:request_id;size:64"`
	Actor         string          `gorm:"column:actor;size:255;index:idx_api_audit_actor_time,priority:1;not null"`
	Resource      string          `gorm:"column:resource;size:32;index:idx_api_audit_resource_time,priority:1"`
	ResourceIDs   JSONStringSlice `gorm:"column:resource_ids;type:text"`
	Action        string          `gorm:"column:action;size:32"`
	Outcome       string          `gorm:"column:outcome;size:16;not null"` // success, failure, denied
	StatusCode    int             `gorm:"column:status_code"`
	Reason        string          `gorm:"column:reason;type:text"`
	EventMetadata JSONAny         `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time       `gorm:"column:created_at;index:idx_api_audit_actor_time,priority:2;index:idx_api_audit_resource_time,priority:2;index"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "api_audit_events" }
