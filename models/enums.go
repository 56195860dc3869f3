package models

import (
	"errors"
	"fmt"
)

type DriverType string

const (
	DriverTypeRetail   DriverType = "Retail"
	DriverTypeShipment DriverType = "Shipment"
)

func (t *DriverType) UnmarshalJSON(b []byte) error {
	str := unquote(b)
	switch str {
	case "Retail":
		*t = DriverTypeRetail
	case "Shipment":
		*t = DriverTypeShipment
	default:
		return errors.New("invalid driver type")
	}
	return nil
}

type SaleType string

const (
	SaleTypePackage SaleType = "Package"
	SaleTypeRefill  SaleType = "Refill"
)

func (t *SaleType) UnmarshalJSON(b []byte) error {
	str := unquote(b)
	switch str {
	case "Package":
		*t = SaleTypePackage
	case "Refill":
		*t = SaleTypeRefill
	default:
		return errors.New("invalid sale type")
	}
	return nil
}

// ReceivableType is a closed set. Any switch over it must carry a default
// returning ErrUnknownReceivableType so new variants fail loudly instead of
// being silently skipped.
type ReceivableType string

const (
	ReceivableTypeCash     ReceivableType = "Cash"
	ReceivableTypeCylinder ReceivableType = "Cylinder"
)

var ErrUnknownReceivableType = errors.New("unknown receivable type")

func ParseReceivableType(s string) (ReceivableType, error) {
	switch s {
	case "Cash":
		return ReceivableTypeCash, nil
	case "Cylinder":
		return ReceivableTypeCylinder, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReceivableType, s)
	}
}

func (t *ReceivableType) UnmarshalJSON(b []byte) error {
	parsed, err := ParseReceivableType(unquote(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AllReceivableTypes drives exhaustive iteration (snapshots, validation).
func AllReceivableTypes() []ReceivableType {
	return []ReceivableType{ReceivableTypeCash, ReceivableTypeCylinder}
}

type SnapshotType string

const (
	SnapshotTypeOnboarding SnapshotType = "Onboarding"
	SnapshotTypeManual     SnapshotType = "Manual"
	SnapshotTypePeriodic   SnapshotType = "Periodic"
)

func (t *SnapshotType) UnmarshalJSON(b []byte) error {
	str := unquote(b)
	switch str {
	case "Onboarding":
		*t = SnapshotTypeOnboarding
	case "Manual":
		*t = SnapshotTypeManual
	case "Periodic":
		*t = SnapshotTypePeriodic
	default:
		return errors.New("invalid snapshot type")
	}
	return nil
}

// DiscrepancyStatus classifies a current value against its baseline using the
// shared currency epsilon.
type DiscrepancyStatus string

const (
	DiscrepancyStatusUnchanged DiscrepancyStatus = "UNCHANGED"
	DiscrepancyStatusIncreased DiscrepancyStatus = "INCREASED"
	DiscrepancyStatusDecreased DiscrepancyStatus = "DECREASED"
)

type IssueType string

const (
	IssueTypeMissingRecords     IssueType = "MISSING_RECORDS"
	IssueTypeLargeDiscrepancies IssueType = "LARGE_DISCREPANCIES"
)

type IssueSeverity string

const (
	IssueSeverityHigh   IssueSeverity = "HIGH"
	IssueSeverityMedium IssueSeverity = "MEDIUM"
	IssueSeverityLow    IssueSeverity = "LOW"
)

type AuditActionType string

const (
	AuditActionCreate AuditActionType = "CREATE"
	AuditActionUpdate AuditActionType = "UPDATE"
	AuditActionDelete AuditActionType = "DELETE"
)

// LedgerEventType tags outbox rows published after commit.
type LedgerEventType string

const (
	LedgerEventRecalculationCompleted LedgerEventType = "RECALCULATION_COMPLETED"
	LedgerEventDiscrepancyDetected    LedgerEventType = "DISCREPANCY_DETECTED"
	LedgerEventSnapshotCreated        LedgerEventType = "SNAPSHOT_CREATED"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "Admin"
	UserRoleStaff UserRole = "Staff"
)

func unquote(b []byte) string {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
