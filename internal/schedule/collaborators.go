package schedule

import (
	"context"

	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/notify"
	"github.com/tfdgestao/relatorios/internal/report"
	"github.com/tfdgestao/relatorios/internal/users"
)

// Renderer produces the report payload; implemented by report.Generator.
type Renderer interface {
	Generate(ctx context.Context, reportType models.ReportType, params map[string]interface{}, format models.OutputFormat) (*report.Document, error)
}

// Mailer delivers a generated report; implemented by notify.Mailer.
type Mailer interface {
	Send(ctx context.Context, mail notify.Mail) error
}

// Directory resolves schedule owners for mail text and audit logs.
type Directory interface {
	Lookup(ctx context.Context, id uint) (users.Identity, error)
}

// FailureNotifier is told about every failed run, best-effort.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, s *models.ReportSchedule, errMsg string) error
}

// Executor runs one schedule; the Runner is the only production implementation.
type Executor interface {
	Run(ctx context.Context, id uint, trigger Trigger) (Outcome, error)
}
