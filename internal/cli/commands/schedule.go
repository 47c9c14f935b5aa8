package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tfdgestao/relatorios/internal/api/client"
	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/schedule"
	"gorm.io/datatypes"
)

var (
	cSuccess = color.New(color.FgGreen)
	cError   = color.New(color.FgRed)
	cPending = color.New(color.FgYellow)
	cDim     = color.New(color.FgHiBlack)
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Report schedule commands",
		Aliases: []string{"schedules", "s"},
	}

	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newScheduleGetCommand())
	cmd.AddCommand(newScheduleCreateCommand())
	cmd.AddCommand(newScheduleUpdateCommand())
	cmd.AddCommand(newScheduleDeleteCommand())
	cmd.AddCommand(newScheduleToggleCommand("enable", true))
	cmd.AddCommand(newScheduleToggleCommand("disable", false))
	cmd.AddCommand(newScheduleRunCommand())
	cmd.AddCommand(newScheduleSweepCommand())
	cmd.AddCommand(newScheduleArmedCommand())
	cmd.AddCommand(newScheduleImportCommand())
	cmd.AddCommand(newScheduleExportCommand())

	return cmd
}

// NewLoginCommand prints a token to export as TFD_API_TOKEN.
func NewLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := os.Getenv("TFD_API_URL")
			if baseURL == "" {
				baseURL = "http://localhost:8080"
			}
			token, err := client.New(baseURL, "").Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("failed to log in: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var (
		opts   client.ListOptions
		active string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List report schedules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			if active != "" {
				b, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("invalid --active value %q", active)
				}
				opts.Active = &b
			}

			page, err := c.ListSchedules(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tRECURRENCE\tFORMAT\tACTIVE\tNEXT RUN\tLAST RUN\tSTATUS")
			for _, s := range page.Items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
					s.ID,
					s.Name,
					s.ReportType,
					describeRecurrence(&s),
					s.OutputFormat,
					s.Active,
					formatTime(s.NextRun),
					formatTime(s.LastRun),
					statusText(s.LastRunStatus),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			cDim.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d schedules\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&active, "active", "", "Filter by active flag (true/false)")
	cmd.Flags().StringVar(&opts.ReportType, "type", "", "Filter by report type")
	cmd.Flags().StringVar(&opts.Recurrence, "recurrence", "", "Filter by recurrence")
	cmd.Flags().StringVar(&opts.Search, "search", "", "Search name and description")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "Page size (max 100)")
	return cmd
}

func newScheduleGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [schedule_id]",
		Short: "Show a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			s, err := c.GetSchedule(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get schedule: %w", err)
			}
			printSchedule(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

// scheduleFlags binds the definition fields shared by create and update.
type scheduleFlags struct {
	name        string
	description string
	reportType  string
	recurrence  string
	weekday     int
	dayOfMonth  int
	timeOfDay   string
	format      string
	recipients  []string
	params      string
	active      bool
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
	cmd.Flags().StringVar(&f.reportType, "type", "", "Report type (users/municipalities/trip_requests/access_logs)")
	cmd.Flags().StringVar(&f.recurrence, "recurrence", "", "Recurrence (daily/weekly/monthly/on_demand)")
	cmd.Flags().IntVar(&f.weekday, "weekday", 0, "Weekday for weekly schedules (0=Sunday)")
	cmd.Flags().IntVar(&f.dayOfMonth, "day", 1, "Day of month for monthly schedules")
	cmd.Flags().StringVar(&f.timeOfDay, "time", "", "Time of day (HH:MM)")
	cmd.Flags().StringVar(&f.format, "format", "", "Output format (pdf/excel/csv)")
	cmd.Flags().StringSliceVar(&f.recipients, "recipient", nil, "Recipient email (repeatable)")
	cmd.Flags().StringVar(&f.params, "params", "", "Report parameters as a JSON object")
	cmd.Flags().BoolVar(&f.active, "active", true, "Enable the schedule")
}

func (f *scheduleFlags) parameters() (map[string]interface{}, error) {
	if f.params == "" {
		return nil, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(f.params), &params); err != nil {
		return nil, fmt.Errorf("invalid --params: %w", err)
	}
	return params, nil
}

func newScheduleCreateCommand() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.parameters()
			if err != nil {
				return err
			}
			def := &models.ReportSchedule{
				Name:         f.name,
				Description:  f.description,
				ReportType:   models.ReportType(f.reportType),
				Parameters:   params,
				Recurrence:   models.Recurrence(f.recurrence),
				TimeOfDay:    f.timeOfDay,
				OutputFormat: models.OutputFormat(f.format),
				Recipients:   f.recipients,
				Active:       f.active,
			}
			if cmd.Flags().Changed("weekday") || def.Recurrence == models.RecurrenceWeekly {
				def.Weekday = &f.weekday
			}
			if cmd.Flags().Changed("day") || def.Recurrence == models.RecurrenceMonthly {
				def.DayOfMonth = &f.dayOfMonth
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			s, err := c.CreateSchedule(cmd.Context(), def)
			if err != nil {
				return describeAPIError("failed to create schedule", err)
			}
			cSuccess.Fprintf(cmd.OutOrStdout(), "Schedule %d created, next run %s\n", s.ID, formatTime(s.NextRun))
			return nil
		},
	}

	f.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("recurrence")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func newScheduleUpdateCommand() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "update [schedule_id]",
		Short: "Change fields of a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var u schedule.Update
			changed := cmd.Flags().Changed
			if changed("name") {
				u.Name = &f.name
			}
			if changed("description") {
				u.Description = &f.description
			}
			if changed("type") {
				rt := models.ReportType(f.reportType)
				u.ReportType = &rt
			}
			if changed("recurrence") {
				r := models.Recurrence(f.recurrence)
				u.Recurrence = &r
			}
			if changed("weekday") {
				u.Weekday = &f.weekday
			}
			if changed("day") {
				u.DayOfMonth = &f.dayOfMonth
			}
			if changed("time") {
				u.TimeOfDay = &f.timeOfDay
			}
			if changed("format") {
				of := models.OutputFormat(f.format)
				u.OutputFormat = &of
			}
			if changed("recipient") {
				u.Recipients = &f.recipients
			}
			if changed("params") {
				params, err := f.parameters()
				if err != nil {
					return err
				}
				m := datatypes.JSONMap(params)
				u.Parameters = &m
			}
			if changed("active") {
				u.Active = &f.active
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			s, err := c.UpdateSchedule(cmd.Context(), id, u)
			if err != nil {
				return describeAPIError("failed to update schedule", err)
			}
			cSuccess.Fprintf(cmd.OutOrStdout(), "Schedule %d updated, next run %s\n", s.ID, formatTime(s.NextRun))
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func newScheduleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete [schedule_id]",
		Short:   "Delete a report schedule",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			if err := c.DeleteSchedule(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d deleted\n", id)
			return nil
		},
	}
}

func newScheduleToggleCommand(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [schedule_id]",
		Short: use + " a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			s, err := c.SetActive(cmd.Context(), id, active)
			if err != nil {
				return fmt.Errorf("failed to %s schedule: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d %sd, next run %s\n", s.ID, use, formatTime(s.NextRun))
			return nil
		},
	}
}

func newScheduleRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [schedule_id]",
		Short: "Generate and deliver a report now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			outcome, err := c.RunSchedule(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to run schedule: %w", err)
			}
			printOutcomes(cmd.OutOrStdout(), []schedule.Outcome{*outcome})
			if outcome.Status == models.RunStatusError {
				return errors.New("report run failed")
			}
			return nil
		},
	}
}

func newScheduleSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every overdue schedule now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			outcomes, err := c.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sweep: %w", err)
			}
			if len(outcomes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedules were due")
				return nil
			}
			printOutcomes(cmd.OutOrStdout(), outcomes)
			return nil
		},
	}
}

func newScheduleArmedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "armed",
		Short: "List timers armed in the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			armed, err := c.Armed(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list armed timers: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE\tFIRES AT\tIN")
			for _, a := range armed {
				fmt.Fprintf(w, "%d\t%s\t%s\n", a.ScheduleID, a.FiresAt.Local().Format(time.RFC3339),
					time.Until(a.FiresAt).Round(time.Second))
			}
			return w.Flush()
		},
	}
}

func newScheduleImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Create schedules from a JSON export (all or nothing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var defs []models.ReportSchedule
			if err := json.Unmarshal(data, &defs); err != nil {
				return fmt.Errorf("invalid schedule file: %w", err)
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			created, err := c.ImportSchedules(cmd.Context(), defs)
			if err != nil {
				return describeAPIError("failed to import schedules", err)
			}
			cSuccess.Fprintf(cmd.OutOrStdout(), "%d schedules imported\n", len(created))
			return nil
		},
	}
}

func newScheduleExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every schedule definition as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			all, err := c.ExportSchedules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to export schedules: %w", err)
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func printSchedule(w io.Writer, s *models.ReportSchedule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", s.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", s.Description)
	}
	fmt.Fprintf(tw, "Report:\t%s (%s)\n", s.ReportType, s.OutputFormat)
	fmt.Fprintf(tw, "Recurrence:\t%s\n", describeRecurrence(s))
	fmt.Fprintf(tw, "Active:\t%t\n", s.Active)
	fmt.Fprintf(tw, "Recipients:\t%v\n", []string(s.Recipients))
	if len(s.Parameters) > 0 {
		keys := make([]string, 0, len(s.Parameters))
		for k := range s.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "Param %s:\t%v\n", k, s.Parameters[k])
		}
	}
	fmt.Fprintf(tw, "Next run:\t%s\n", formatTime(s.NextRun))
	fmt.Fprintf(tw, "Last run:\t%s\n", formatTime(s.LastRun))
	tw.Flush()

	fmt.Fprintf(w, "Last status: %s\n", statusText(s.LastRunStatus))
	if s.LastRunError != nil {
		cError.Fprintf(w, "Last error: %s\n", *s.LastRunError)
	}
}

func printOutcomes(w io.Writer, outcomes []schedule.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRAN AT\tNEXT RUN\tSTATUS")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.ScheduleID, o.Name, formatTime(&o.RanAt), formatTime(o.NextRun), statusText(o.Status))
	}
	tw.Flush()
	for _, o := range outcomes {
		if o.Error != "" {
			cError.Fprintf(w, "schedule %d: %s\n", o.ScheduleID, o.Error)
		}
	}
}

var weekdays = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

func describeRecurrence(s *models.ReportSchedule) string {
	switch s.Recurrence {
	case models.RecurrenceDaily:
		return "daily " + s.TimeOfDay
	case models.RecurrenceWeekly:
		if s.Weekday != nil && *s.Weekday >= 0 && *s.Weekday < len(weekdays) {
			return fmt.Sprintf("weekly %s %s", weekdays[*s.Weekday], s.TimeOfDay)
		}
	case models.RecurrenceMonthly:
		if s.DayOfMonth != nil {
			return fmt.Sprintf("monthly day %d %s", *s.DayOfMonth, s.TimeOfDay)
		}
	}
	return string(s.Recurrence)
}

// statusText colours a run status; it must stay the last column of a table
// because escape codes break tabwriter alignment.
func statusText(status models.RunStatus) string {
	switch status {
	case models.RunStatusSuccess:
		return cSuccess.Sprint(status)
	case models.RunStatusError:
		return cError.Sprint(status)
	case models.RunStatusPending:
		return cPending.Sprint(status)
	default:
		return cDim.Sprint("-")
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid schedule ID %q", s)
	}
	return uint(id), nil
}

// describeAPIError appends per-field validation messages to err.
func describeAPIError(msg string, err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return fmt.Errorf("%s: %w", msg, err)
	}
	names := make([]string, 0, len(apiErr.Fields))
	for name := range apiErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cError.Fprintf(os.Stderr, "  %s: %s\n", name, apiErr.Fields[name])
	}
	return fmt.Errorf("%s: %w", msg, err)
}
