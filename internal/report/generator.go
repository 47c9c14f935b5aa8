package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tfdgestao/relatorios/internal/models"
	"gorm.io/gorm"
)

const (
	dateLayout   = "2006-01-02"
	defaultLimit = 5000
)

// Document is a rendered report ready to be attached to a mail.
type Document struct {
	Data        []byte
	ContentType string
	Rows        int
}

// Table is the format-independent shape every report type is reduced to
// before encoding.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

type Generator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGenerator(db *gorm.DB, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{db: db, now: now}
}

// Generate collects the rows for reportType, filtered by params, and encodes
// them in format.
//
// Recognised parameters: "since"/"until" (YYYY-MM-DD), "period_days",
// "limit", plus "state" (municipalities), "status" and "municipality_id"
// (trip_requests), "role" (users), "path" and "user_id" (access_logs).
func (g *Generator) Generate(ctx context.Context, reportType models.ReportType, params map[string]interface{}, format models.OutputFormat) (*Document, error) {
	table, err := g.collect(ctx, reportType, Params(params))
	if err != nil {
		return nil, fmt.Errorf("failed to collect %s report data: %w", reportType, err)
	}

	var data []byte
	var contentType string
	switch format {
	case models.OutputFormatCSV:
		data, err = EncodeCSV(table)
		contentType = "text/csv"
	case models.OutputFormatExcel:
		data, err = EncodeExcel(table)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case models.OutputFormatPDF:
		data, err = EncodePDF(table, g.now())
		contentType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s report as %s: %w", reportType, format, err)
	}

	return &Document{Data: data, ContentType: contentType, Rows: len(table.Rows)}, nil
}

func (g *Generator) collect(ctx context.Context, reportType models.ReportType, p Params) (*Table, error) {
	db := g.db.WithContext(ctx)
	since, until, err := p.window(g.now())
	if err != nil {
		return nil, err
	}
	// Timestamps are stored in UTC and SQLite compares them as text.
	since, until = since.UTC(), until.UTC()
	limit := p.Int("limit", defaultLimit)

	switch reportType {
	case models.ReportTypeUsers:
		q := db.Model(&models.User{}).Order("username asc").Limit(limit)
		if role := p.String("role"); role != "" {
			q = q.Where("role = ?", role)
		}
		var users []models.User
		if err := q.Find(&users).Error; err != nil {
			return nil, err
		}
		t := &Table{Title: "Usuários", Columns: []string{"ID", "Usuário", "Nome", "E-mail", "Perfil", "Ativo", "Criado em"}}
		for _, u := range users {
			t.Rows = append(t.Rows, []string{
				uintText(u.ID), u.Username, u.Name, u.Email, string(u.Role),
				yesNo(u.IsActive), u.CreatedAt.Format(dateLayout),
			})
		}
		return t, nil

	case models.ReportTypeMunicipalities:
		q := db.Model(&models.Municipality{}).Order("state asc, name asc").Limit(limit)
		if state := p.String("state"); state != "" {
			q = q.Where("state = ?", state)
		}
		var municipalities []models.Municipality
		if err := q.Find(&municipalities).Error; err != nil {
			return nil, err
		}
		t := &Table{Title: "Prefeituras", Columns: []string{"ID", "Nome", "UF", "IBGE", "E-mail", "Telefone"}}
		for _, m := range municipalities {
			t.Rows = append(t.Rows, []string{uintText(m.ID), m.Name, m.State, m.IBGE, m.Email, m.Phone})
		}
		return t, nil

	case models.ReportTypeTripRequests:
		q := db.Model(&models.TripRequest{}).
			Where("travel_date BETWEEN ? AND ?", since, until).
			Order("travel_date asc").
			Limit(limit)
		if status := p.String("status"); status != "" {
			q = q.Where("status = ?", status)
		}
		if id := p.Int("municipality_id", 0); id > 0 {
			q = q.Where("municipality_id = ?", id)
		}
		var trips []models.TripRequest
		if err := q.Find(&trips).Error; err != nil {
			return nil, err
		}
		t := &Table{Title: "Solicitações de viagem", Columns: []string{"ID", "Prefeitura", "Paciente", "Destino", "Data", "Situação", "Acompanhantes"}}
		for _, tr := range trips {
			t.Rows = append(t.Rows, []string{
				uintText(tr.ID), uintText(tr.MunicipalityID), tr.PatientName, tr.Destination,
				tr.TravelDate.Format(dateLayout), tr.Status, strconv.Itoa(tr.Companions),
			})
		}
		return t, nil

	case models.ReportTypeAccessLogs:
		q := db.Model(&models.AccessLog{}).
			Where("created_at BETWEEN ? AND ?", since, until).
			Order("created_at desc").
			Limit(limit)
		if path := p.String("path"); path != "" {
			q = q.Where("path LIKE ?", path+"%")
		}
		if id := p.Int("user_id", 0); id > 0 {
			q = q.Where("user_id = ?", id)
		}
		var entries []models.AccessLog
		if err := q.Find(&entries).Error; err != nil {
			return nil, err
		}
		t := &Table{Title: "Logs de acesso", Columns: []string{"Data", "Usuário", "Método", "Caminho", "Status", "IP", "Latência (ms)"}}
		for _, e := range entries {
			t.Rows = append(t.Rows, []string{
				e.CreatedAt.Format("2006-01-02 15:04:05"), uintText(e.UserID), e.Method, e.Path,
				strconv.Itoa(e.Status), e.ClientIP, strconv.FormatInt(e.LatencyMs, 10),
			})
		}
		return t, nil
	}

	return nil, fmt.Errorf("unknown report type: %s", reportType)
}

// Params is the opaque parameter map of a schedule with typed accessors.
// Values arrive from JSON, so numbers are float64.
type Params map[string]interface{}

func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// window resolves the reporting period. Without parameters it covers the
// 30 days up to now.
func (p Params) window(now time.Time) (time.Time, time.Time, error) {
	until := now
	if s := p.String("until"); s != "" {
		t, err := time.ParseInLocation(dateLayout, s, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid until date %q: %w", s, err)
		}
		until = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	since := until.AddDate(0, 0, -p.Int("period_days", 30))
	if s := p.String("since"); s != "" {
		t, err := time.ParseInLocation(dateLayout, s, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid since date %q: %w", s, err)
		}
		since = t
	}
	if since.After(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("since %s is after until %s", since.Format(dateLayout), until.Format(dateLayout))
	}
	return since, until, nil
}

func uintText(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func yesNo(b bool) string {
	if b {
		return "sim"
	}
	return "não"
}
