package types

import "time"

// Operator is one of the comparison operators a Request condition may
// carry (spec.md §3).
type Operator string

const (
	OpEQ        Operator = "EQ"
	OpNE        Operator = "NE"
	OpGT        Operator = "GT"
	OpGTE       Operator = "GTE"
	OpLT        Operator = "LT"
	OpLTE       Operator = "LTE"
	OpICONTAINS Operator = "ICONTAINS"
)

// ValidOperators enumerates the operator set cast_request_params (C1)
// validates against.
var ValidOperators = map[Operator]bool{
	OpEQ: true, OpNE: true, OpGT: true, OpGTE: true,
	OpLT: true, OpLTE: true, OpICONTAINS: true,
}

// Condition is a single per-key requirement on a Request:
// {value, operator, height}.
type Condition struct {
	Value    Value    `json:"value"`
	Operator Operator `json:"operator"`
	Height   float64  `json:"height"`
}

// Status is a Request's lifecycle state (spec.md §3).
type Status string

const (
	StatusProcessed Status = "processed"
	StatusAwait     Status = "await"
	StatusAccept    Status = "accept"
	StatusReject    Status = "reject"
)

// Request is the work unit dispatched to a User.
type Request struct {
	ID        string               `db:"id" json:"id"`
	ParentID  *string              `db:"parent_id" json:"parent_id,omitempty"`
	UserID    *string              `db:"user_id" json:"user_id,omitempty"`
	Params    map[string]Condition `db:"-" json:"params"`
	Status    Status               `db:"status" json:"status"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt time.Time            `db:"updated_at" json:"updated_at"`
}

// User is an executor that may be assigned Requests.
type User struct {
	ID               string           `db:"id" json:"id"`
	Username         string           `db:"username" json:"username"`
	Params           map[string]Value `db:"-" json:"params"`
	MaxDailyRequests *int             `db:"max_daily_requests" json:"max_daily_requests,omitempty"`
}

// KeyDataType is one registered parameter key -> declared type record.
type KeyDataType struct {
	Name   string `db:"name" json:"name"`
	TypeOf string `db:"type_of" json:"type_of"`
}

// DispatchLog is the append-only audit record written on every
// successful commit (spec.md §3).
type DispatchLog struct {
	RequestID        string    `db:"request_id" json:"request_id"`
	ParentID         *string   `db:"parent_id" json:"parent_id,omitempty"`
	TaskID           string    `db:"task_id" json:"task_id"`
	RequestCreatedAt time.Time `db:"request_created_at" json:"request_created_at"`
	RequestUpdatedAt time.Time `db:"request_updated_at" json:"request_updated_at"`
}
