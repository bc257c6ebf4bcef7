package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kind identifies the family of an artifact. The string value doubles as the
// collection segment used by the management API and as the top-level folder
// in the object store.
type Kind string

const (
	KindProxy      Kind = "apis"
	KindSharedFlow Kind = "sharedflows"
)

// ParseKind maps a collection segment onto a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindProxy, KindSharedFlow:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown artifact kind: %q", s)
	}
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// ArtifactRef identifies one revision of a proxy or shared flow within an org
type ArtifactRef struct {
	Org      string `json:"org"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Revision string `json:"revision"`
}

// String renders the ref the same way it is addressed upstream
func (r ArtifactRef) String() string {
	return fmt.Sprintf("organizations/%s/%s/%s/revisions/%s", r.Org, r.Kind, r.Name, r.Revision)
}

// StateDeleted marks a revision whose upstream counterpart was removed
const StateDeleted = "deleted"

// RevisionMetadata is persisted as metadata.json next to each revision tree.
// The JSON field names are a persisted contract; do not rename them.
type RevisionMetadata struct {
	Kind              Kind   `json:"type"`
	Name              string `json:"name"`
	Revision          string `json:"revision"`
	AuthenticatedUser string `json:"authenticatedUser"`
	LastUpdatedAt     string `json:"last_updated_at,omitempty"`
	State             string `json:"state,omitempty"`
	DeletedAt         string `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the record carries the deleted state
func (m *RevisionMetadata) IsDeleted() bool {
	return m.State == StateDeleted
}

// Delivery outcomes recorded in the ledger
const (
	OutcomeOK         = "ok"
	OutcomeIgnored    = "ignored"
	OutcomeOutOfScope = "out_of_scope"
	OutcomeFailed     = "failed"
)

// DeliveryRecord is one row of the delivery ledger
type DeliveryRecord struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey"`
	Method     string    `json:"method" gorm:"index"`
	Resource   string    `json:"resource"`
	Transition string    `json:"transition" gorm:"index"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name" gorm:"index"`
	Revision   string    `json:"revision"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome" gorm:"index;not null"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ReceivedAt string    `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the delivery ID
func (d *DeliveryRecord) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DeliveryFilter narrows ledger queries
type DeliveryFilter struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Limit   int    `json:"limit"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
