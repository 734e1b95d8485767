package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mediscan/internal/analysis"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/services"
)

// scan is an analyzed image waiting for "save".
type scan struct {
	report   models.Report
	image    string
	category string
}

var errNoAnalyzer = errors.New("image analysis is not configured (set ai_api_key)")

func (a *App) cmdAnalyze(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("analyze")
	}
	if a.analyzer == nil {
		return errNoAnalyzer
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	category := "General"
	if len(args) > 1 {
		category = strings.Join(args[1:], " ")
	}

	fmt.Fprintln(a.out, "Analyzing...")
	report, err := a.analyzer.Analyze(ctx, data, mimeType(args[0], data), analysis.Options{})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.lastScan = &scan{report: *report, image: base64.StdEncoding.EncodeToString(data), category: category}
	a.mu.Unlock()

	printReport(a, report)
	fmt.Fprintln(a.out, "Type 'save' to keep this result.")
	return nil
}

func mimeType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func (a *App) cmdSave(ctx context.Context, args []string) error {
	a.mu.Lock()
	s := a.lastScan
	a.mu.Unlock()
	if s == nil {
		return errors.New("nothing to save, run 'analyze' first")
	}

	viewer, _ := a.current()
	owner := viewer
	if len(args) > 0 && args[0] != viewer.ID {
		patient, err := a.users.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !canActFor(viewer, *patient) {
			return errors.New("you may only save scans for your own patients")
		}
		owner = *patient
	}

	rec := &models.ScanRecord{
		OwnerID:          owner.ID,
		OwnerDisplayName: owner.Name,
		Report:           s.report,
		ImageData:        s.image,
		Category:         s.category,
	}
	if err := a.records.Save(ctx, rec); err != nil {
		return err
	}

	a.mu.Lock()
	a.lastScan = nil
	a.mu.Unlock()

	state := "pending sync"
	if stored, err := a.records.Get(ctx, rec.ID); err == nil && stored.Synced {
		state = "synced"
	}
	fmt.Fprintf(a.out, "Saved record %s for %s (%s)\n", rec.ID, owner.Name, state)
	return nil
}

// canActFor reports whether viewer may create or change data owned by target.
func canActFor(viewer, target models.UserAccount) bool {
	switch viewer.Role {
	case models.RolePatient:
		return viewer.ID == target.ID
	case models.RoleDoctor:
		return target.Role == models.RolePatient && target.AssignedDoctorID == viewer.ID
	default:
		return viewer.Can(models.PermViewReports)
	}
}

func (a *App) visibleRecords(ctx context.Context) ([]*models.ScanRecord, error) {
	recs, err := a.records.List(ctx)
	if err != nil {
		return nil, err
	}
	viewer, _ := a.current()

	patients := map[string]struct{}{}
	if viewer.Role == models.RoleDoctor {
		mine, err := a.users.PatientsForDoctor(ctx, viewer.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range mine {
			patients[p.ID] = struct{}{}
		}
	}
	return services.VisibleTo(recs, viewer, patients), nil
}

func (a *App) cmdList(ctx context.Context, _ []string) error {
	recs, err := a.visibleRecords(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "No records.")
		return nil
	}
	for _, r := range recs {
		mark := " "
		if !r.Synced {
			mark = "*"
		}
		fmt.Fprintf(a.out, "%s %s  %s  %-20s %-9s %s\n", mark, r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.OwnerDisplayName, r.Report.Severity, r.Report.Diagnosis)
	}
	fmt.Fprintln(a.out, "(* = not synced yet)")
	return nil
}

// findVisible returns the record when the signed-in account may see it.
func (a *App) findVisible(ctx context.Context, id string) (*models.ScanRecord, error) {
	recs, err := a.visibleRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
}

func (a *App) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("show")
	}
	r, err := a.findVisible(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Record:   %s\nPatient:  %s\nDate:     %s\nCategory: %s\nSynced:   %t\n",
		r.ID, r.OwnerDisplayName, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Category, r.Synced)
	printReport(a, &r.Report)
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("delete")
	}
	r, err := a.findVisible(ctx, args[0])
	if err != nil {
		return err
	}
	left, err := a.records.Delete(ctx, r.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s, %d records left\n", r.ID, len(left))
	return nil
}

func printReport(a *App, r *models.Report) {
	fmt.Fprintf(a.out, "Diagnosis:  %s\nSeverity:   %s\nConfidence: %s\nSummary:    %s\n",
		r.Diagnosis, r.Severity, r.Confidence, r.Summary)
	if len(r.Findings) > 0 {
		fmt.Fprintln(a.out, "Findings:")
		for _, f := range r.Findings {
			fmt.Fprintln(a.out, "  -", f)
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintln(a.out, "Recommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintln(a.out, "  -", rec)
		}
	}
}
