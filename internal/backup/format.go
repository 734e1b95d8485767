package backup

import (
	"time"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

// FormatVersion is written into every export.
const FormatVersion = 1

// File is the object form of a backup. Older exports are a bare JSON array
// of records, which Import also accepts.
type File struct {
	Version   int          `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Users     []userJSON   `json:"users"`
	Records   []recordJSON `json:"records"`
}

// recordJSON keeps timestamps as Unix milliseconds for compatibility with
// existing backup files.
type recordJSON struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId,omitempty"`
	PatientName string         `json:"patientName,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	Result      *models.Report `json:"result"`
	ImageData   string         `json:"imageData"`
	Category    string         `json:"category,omitempty"`
	Synced      bool           `json:"synced"`
}

type userJSON struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	PhoneNumber      string   `json:"phoneNumber,omitempty"`
	Password         string   `json:"password,omitempty"`
	Role             string   `json:"role"`
	Status           string   `json:"status"`
	LastLogin        int64    `json:"lastLogin,omitempty"`
	AssignedDoctorID string   `json:"assignedDoctorId,omitempty"`
	Permissions      []string `json:"permissions,omitempty"`
	CreatedAt        int64    `json:"createdAt,omitempty"`
}

func fromRecord(r *models.ScanRecord) recordJSON {
	report := r.Report
	return recordJSON{
		ID:          r.ID,
		UserID:      r.OwnerID,
		PatientName: r.OwnerDisplayName,
		Timestamp:   dbx.Millis(r.CreatedAt),
		Result:      &report,
		ImageData:   r.ImageData,
		Category:    r.Category,
		Synced:      r.Synced,
	}
}

func (r recordJSON) toRecord() *models.ScanRecord {
	return &models.ScanRecord{
		ID:               r.ID,
		OwnerID:          r.UserID,
		OwnerDisplayName: r.PatientName,
		CreatedAt:        dbx.FromMillis(r.Timestamp),
		Report:           *r.Result,
		ImageData:        r.ImageData,
		Category:         r.Category,
	}
}

func fromUser(u *models.UserAccount) userJSON {
	return userJSON{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		PhoneNumber:      u.PhoneNumber,
		Password:         u.PasswordHash,
		Role:             string(u.Role),
		Status:           string(u.Status),
		LastLogin:        dbx.Millis(u.LastLoginAt),
		AssignedDoctorID: u.AssignedDoctorID,
		Permissions:      models.PermissionNames(u.Permissions),
		CreatedAt:        dbx.Millis(u.CreatedAt),
	}
}

func (u userJSON) toUser() *models.UserAccount {
	status := models.Status(u.Status)
	if status != models.StatusInactive {
		status = models.StatusActive
	}
	role, _ := models.ParseRole(u.Role)
	return &models.UserAccount{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		PhoneNumber:      u.PhoneNumber,
		PasswordHash:     u.Password,
		Role:             role,
		Status:           status,
		LastLoginAt:      dbx.FromMillis(u.LastLogin),
		AssignedDoctorID: u.AssignedDoctorID,
		Permissions:      models.ParsePermissions(u.Permissions),
		CreatedAt:        dbx.FromMillis(u.CreatedAt),
	}
}
