package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleWorker     Role = "Worker"
	RoleAssociate  Role = "Associate"
	RoleLead       Role = "Lead"
	RoleSupervisor Role = "Supervisor"
	RoleManager    Role = "Manager"
	RoleAdmin      Role = "Admin"
)

// IsValid returns true if Role is known to the portal
func (r Role) IsValid() bool {
	switch r {
	case RoleWorker, RoleAssociate, RoleLead, RoleSupervisor, RoleManager, RoleAdmin:
		return true
	}
	return false
}

func (r *Role) Scan(value interface{ any }) error {
	switch v := value.(type) {
	case string:
		*r = Role(v)
	case []byte:
		*r = Role(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", value)
	}
	return nil
}

func (r Role) Value() (driver.Value, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid Role %q", r)
	}
	return string(r), nil
}

type W9Status string

const (
	W9Approved W9Status = "approved"
	W9Pending  W9Status = "pending"
)

func (s W9Status) IsValid() bool {
	switch s {
	case W9Approved, W9Pending:
		return true
	}
	return false
}

func (s *W9Status) Scan(value interface{ any }) error {
	switch v := value.(type) {
	case string:
		*s = W9Status(v)
	case []byte:
		*s = W9Status(v)
	default:
		return fmt.Errorf("cannot scan %T into W9Status", value)
	}
	return nil
}

func (s W9Status) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid W9Status %q", s)
	}
	return string(s), nil
}

// A Worker is a person who can sign in to the portal and clock time.
//
// The ID is the external WorkerID carried by the roster (e.g. "SG-001"), not a surrogate key,
// so imports can reconcile against it. Phone is nil when the roster has no number.
type Worker struct {
	ID          string          `gorm:"primaryKey;size:64;check:id <> ''"`
	DisplayName string          `gorm:"not null"`
	Email       string          `gorm:"size:254;index"`
	Phone       *string         `gorm:"size:32"`
	Role        Role            `gorm:"type:text;index"`
	HourlyRate  decimal.Decimal `gorm:"type:numeric(10,2)"`
	Language    string          `gorm:"size:32"`
	IsActive    bool            `gorm:"index"`
	W9Status    W9Status        `gorm:"column:w9_status;type:text"`
	Notes       string
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// MutableColumns are the columns an import may overwrite on an existing worker.
var MutableColumns = []string{
	"display_name", "email", "phone", "role", "hourly_rate",
	"language", "is_active", "w9_status", "notes", "updated_at",
}

type Client struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	ContactEmail string `gorm:"size:254"`
	Address      string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AppSetting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string
	UpdatedAt time.Time
}
