package service

import (
	"context"
	"errors"
	"time"

	"ember/internal/server/database"
)

// AccessDetail is one row of the analytics detail table.
type AccessDetail struct {
	OS          string    `json:"os"`
	DeviceType  string    `json:"device_type"`
	Browser     string    `json:"browser"`
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	TimeClicked time.Time `json:"time_clicked"`
}

// AggregateReport groups all access events of one upload by OS, device type
// and browser, alongside the full detail rows ordered by click time.
type AggregateReport struct {
	Total      int            `json:"total"`
	OS         map[string]int `json:"os"`
	DeviceType map[string]int `json:"device_type"`
	Browser    map[string]int `json:"browser"`
	Details    []AccessDetail `json:"details"`
}

// AnalyticsService produces aggregate reports for analytics links. Reads are
// pure: repeated calls over unchanged events yield identical output.
type AnalyticsService struct {
	repo Repository
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(repo Repository) *AnalyticsService {
	return &AnalyticsService{repo: repo}
}

// View resolves an analytics link and aggregates its access events.
// Unknown and expired links both answer ErrNotFound; analytics become
// unavailable after expiry, matching the access gate's opacity.
func (a *AnalyticsService) View(ctx context.Context, analyticLink string) (*AggregateReport, error) {
	upload, err := a.repo.GetByAnalyticLink(ctx, analyticLink)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !time.Now().UTC().Before(upload.ExpiresAt) {
		return nil, ErrNotFound
	}

	events, err := a.repo.ListEvents(ctx, upload.PublicLink)
	if err != nil {
		return nil, err
	}

	report := &AggregateReport{
		Total:      len(events),
		OS:         make(map[string]int),
		DeviceType: make(map[string]int),
		Browser:    make(map[string]int),
		Details:    make([]AccessDetail, 0, len(events)),
	}

	for _, ev := range events {
		report.OS[ev.OS]++
		report.DeviceType[ev.DeviceType]++
		report.Browser[ev.Browser]++
		report.Details = append(report.Details, AccessDetail{
			OS:          ev.OS,
			DeviceType:  ev.DeviceType,
			Browser:     ev.Browser,
			Country:     ev.Country,
			Region:      ev.Region,
			City:        ev.City,
			TimeClicked: ev.TimeClicked,
		})
	}

	return report, nil
}
