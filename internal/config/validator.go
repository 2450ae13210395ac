package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/scheduler"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidDrivers returns the supported database drivers
func ValidDrivers() []string {
	return []string{db.SQLite, db.MySQL, db.Postgres}
}

// ValidLogLevels returns the accepted log levels
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}
}

// Validate checks the Config and returns every problem found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateSchedules()...)
	errors = append(errors, c.validateImport()...)
	errors = append(errors, c.validateWebhooks()...)
	errors = append(errors, c.validateLog()...)
	return errors
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidDrivers(), c.Database.Driver) {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Value:   c.Database.Driver,
			Message: fmt.Sprintf("must be one of %s", strings.Join(ValidDrivers(), ", ")),
		})
	}
	if c.Database.Driver != db.SQLite && c.Database.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "database.dsn",
			Value:   c.Database.DSN,
			Message: "is required for " + c.Database.Driver,
		})
	}
	return errors
}

func (c *Config) validateServer() []ValidationError {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return []ValidationError{{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		}}
	}
	return nil
}

func (c *Config) validateSchedules() []ValidationError {
	var errors []ValidationError
	for field, expr := range map[string]string{
		"sweeper.schedule": c.Sweeper.Schedule,
		"import.schedule":  c.Import.Schedule,
	} {
		if expr == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(expr); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   expr,
				Message: "must be a six-field cron expression or descriptor",
			})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateImport() []ValidationError {
	cols := c.Import.Columns
	var errors []ValidationError
	for field, name := range map[string]string{
		"import.columns.sku":        cols.SKU,
		"import.columns.stock":      cols.Stock,
		"import.columns.pending":    cols.Pending,
		"import.columns.in_transit": cols.InTransit,
		"import.columns.sales":      cols.Sales,
	} {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, ValidationError{Field: field, Value: name, Message: "must not be empty"})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateWebhooks() []ValidationError {
	var errors []ValidationError
	for _, hook := range []struct{ field, value string }{
		{"webhook.slack_url", c.Webhook.SlackURL},
		{"webhook.discord_url", c.Webhook.DiscordURL},
	} {
		if hook.value == "" {
			continue
		}
		u, err := url.Parse(hook.value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{Field: hook.field, Value: hook.value, Message: "must be an http(s) URL"})
		}
	}
	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError
	if c.Log.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, ValidationError{Field: "log.format", Value: c.Log.Format, Message: "must be text or json"})
	}
	return errors
}
