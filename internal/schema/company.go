// Package schema provides the data structures persisted by the sync engine:
// companies, voucher ledger lines and audit log entries.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// CompanyStatus tracks where a company sits in the sync lifecycle.
type CompanyStatus string

const (
	// StatusNew marks a company that has been referenced but never synced.
	StatusNew CompanyStatus = "new"
	// StatusSyncing marks a company with a sync job currently in flight.
	StatusSyncing CompanyStatus = "syncing"
	// StatusSynced marks a company whose last sync completed successfully.
	StatusSynced CompanyStatus = "synced"
	// StatusFailed marks a company whose last sync hit an unrecoverable error.
	StatusFailed CompanyStatus = "failed"
	// StatusIncomplete marks a company that was still syncing when the
	// process terminated. Assigned during startup recovery, never directly.
	StatusIncomplete CompanyStatus = "incomplete"
)

// ValidStatus reports whether s is one of the known company statuses.
func ValidStatus(s CompanyStatus) bool {
	switch s {
	case StatusNew, StatusSyncing, StatusSynced, StatusFailed, StatusIncomplete:
		return true
	}
	return false
}

// Identity uniquely names one syncable snapshot of a company.
//
// VersionID is a canonical string everywhere in this codebase. The external
// source issues it as a number, but comparing numeric and string forms of the
// same marker has caused lookup corruption before, so it is normalized to a
// trimmed string at the source boundary and never converted back.
type Identity struct {
	ExternalID string
	VersionID  string
}

// NewIdentity normalizes and returns an identity key.
func NewIdentity(externalID, versionID string) Identity {
	return Identity{
		ExternalID: strings.TrimSpace(externalID),
		VersionID:  strings.TrimSpace(versionID),
	}
}

// String renders the identity as "externalID/versionID" for log lines.
func (id Identity) String() string {
	return id.ExternalID + "/" + id.VersionID
}

// Validate checks that both identity fields are present.
func (id Identity) Validate() error {
	if id.ExternalID == "" {
		return fmt.Errorf("external_id is required")
	}
	if id.VersionID == "" {
		return fmt.Errorf("version_id is required")
	}
	return nil
}

// Company is one (external_id, version_id) snapshot of a company at the
// external source. A source-side edit issues a new version_id; the new
// snapshot is inserted as a fresh row so historical sync state survives.
type Company struct {
	ID           int64
	Name         string
	ExternalID   string
	VersionID    string
	SourceHandle string // opaque connection descriptor, e.g. an ODBC DSN
	Status       CompanyStatus
	TotalRecords int64
	LastSyncAt   *time.Time
	CreatedAt    time.Time
}

// Identity returns the company's identity key.
func (c *Company) Identity() Identity {
	return Identity{ExternalID: c.ExternalID, VersionID: c.VersionID}
}

// Validate checks that the company has valid field values.
func (c *Company) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := c.Identity().Validate(); err != nil {
		return err
	}
	if !ValidStatus(c.Status) {
		return fmt.Errorf("invalid status %q", c.Status)
	}
	if c.TotalRecords < 0 {
		return fmt.Errorf("total_records must not be negative (got %d)", c.TotalRecords)
	}
	return nil
}
