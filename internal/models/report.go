package models

import (
	"time"

	"gorm.io/datatypes"
)

type ReportType string

const (
	ReportTypeUsers          ReportType = "users"
	ReportTypeMunicipalities ReportType = "municipalities"
	ReportTypeTripRequests   ReportType = "trip_requests"
	ReportTypeAccessLogs     ReportType = "access_logs"
)

type Recurrence string

const (
	RecurrenceDaily    Recurrence = "daily"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceMonthly  Recurrence = "monthly"
	RecurrenceOnDemand Recurrence = "on_demand"
)

type OutputFormat string

const (
	OutputFormatPDF   OutputFormat = "pdf"
	OutputFormatExcel OutputFormat = "excel"
	OutputFormatCSV   OutputFormat = "csv"
)

type RunStatus string

const (
	RunStatusNone    RunStatus = ""
	RunStatusPending RunStatus = "pending"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ReportSchedule is a persisted report generation job. NextRun is nil for
// on-demand and inactive schedules.
type ReportSchedule struct {
	ID            uint                        `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	Name          string                      `json:"name" gorm:"size:100;not null" validate:"required,max=100"`
	Description   string                      `json:"description" gorm:"size:500" validate:"max=500"`
	ReportType    ReportType                  `json:"report_type" gorm:"not null" validate:"required,oneof=users municipalities trip_requests access_logs"`
	Parameters    datatypes.JSONMap           `json:"parameters"`
	Recurrence    Recurrence                  `json:"recurrence" gorm:"not null" validate:"required,oneof=daily weekly monthly on_demand"`
	Weekday       *int                        `json:"weekday,omitempty" validate:"required_if=Recurrence weekly,omitempty,min=0,max=6"`
	DayOfMonth    *int                        `json:"day_of_month,omitempty" validate:"required_if=Recurrence monthly,omitempty,min=1,max=31"`
	TimeOfDay     string                      `json:"time_of_day" gorm:"size:5" validate:"required_unless=Recurrence on_demand,omitempty,hhmm"`
	OutputFormat  OutputFormat                `json:"output_format" gorm:"not null" validate:"required,oneof=pdf excel csv"`
	Recipients    datatypes.JSONSlice[string] `json:"recipients" validate:"dive,email"`
	Active        bool                        `json:"active" gorm:"index"`
	CreatedBy     uint                        `json:"created_by" gorm:"index"`
	LastRun       *time.Time                  `json:"last_run"`
	NextRun       *time.Time                  `json:"next_run" gorm:"index"`
	LastRunStatus RunStatus                   `json:"last_run_status"`
	LastRunError  *string                     `json:"last_run_error"`
}

// Schedulable reports whether the schedule may be auto-executed at all.
func (s *ReportSchedule) Schedulable() bool {
	return s.Active && s.Recurrence != RecurrenceOnDemand
}

// Filename is the attachment name for a generated report.
func (s *ReportSchedule) Filename(at time.Time) string {
	ext := string(s.OutputFormat)
	if s.OutputFormat == OutputFormatExcel {
		ext = "xlsx"
	}
	return string(s.ReportType) + "_" + at.Format("20060102_1504") + "." + ext
}
