// Package models defines the MediScan domain types shared by the local
// store, the remote store, the sync engine and the services.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories when an id does not exist.
var ErrNotFound = errors.New("not found")

// Severity grades a diagnostic report.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityModerate Severity = "Moderate"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Valid reports whether s is one of the four known grades.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Report is the structured output of the image-analysis model. It is written
// once when the record is created and never patched afterwards.
type Report struct {
	Diagnosis       string   `json:"diagnosis"`
	Confidence      string   `json:"confidence"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
	Summary         string   `json:"summary"`
	Severity        Severity `json:"severity"`
}

// Validate checks that every required field is present.
func (r Report) Validate() error {
	switch {
	case r.Diagnosis == "":
		return errors.New("report: diagnosis is empty")
	case r.Summary == "":
		return errors.New("report: summary is empty")
	case !r.Severity.Valid():
		return fmt.Errorf("report: unknown severity %q", r.Severity)
	}
	return nil
}

// ScanRecord is one analyzed image together with its report.
//
// Synced is local-only state: false means the record still has to be pushed
// to the remote store.
type ScanRecord struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"userId,omitempty"`
	OwnerDisplayName string    `json:"patientName,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Report           Report    `json:"result"`
	ImageData        string    `json:"imageData"`
	Category         string    `json:"category,omitempty"`
	Synced           bool      `json:"synced"`
}
