package config

import (
	"fmt"
	"regexp"
	"strings"

	"toolfleet/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err if it is a ValidationError, wrapping anything else.
func (ve *ValidationErrors) addErr(prefix string, err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		if prefix != "" {
			v.Field = prefix + "." + v.Field
		}
		*ve = append(*ve, v)
		return
	}
	ve.Add(prefix, err.Error())
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateMaxLength checks if a string doesn't exceed maximum length
func ValidateMaxLength(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("must not exceed %d characters", maxLength),
		}
	}
	return nil
}

var entityNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateEntityName validates that an entity name can be used in URL paths
// and environment values.
func ValidateEntityName(field, name, entityType string) error {
	if err := ValidateRequired(field, name, entityType); err != nil {
		return err
	}

	if err := ValidateMaxLength(field, name, 100); err != nil {
		return err
	}

	if !entityNamePattern.MatchString(name) {
		return ValidationError{
			Field:   field,
			Value:   name,
			Message: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'",
		}
	}

	return nil
}

// ValidatePort checks a TCP port; zero is allowed when allowZero is set.
func ValidatePort(field string, port int, allowZero bool) error {
	if port == 0 && allowZero {
		return nil
	}
	if port < 1 || port > 65535 {
		return ValidationError{
			Field:   field,
			Value:   port,
			Message: "must be between 1 and 65535",
		}
	}
	return nil
}

// FormatValidationError creates a consistent validation error message
func FormatValidationError(entityType, entityName string, err error) error {
	if err == nil {
		return nil
	}

	if entityName != "" {
		return fmt.Errorf("validation failed for %s '%s': %w", entityType, entityName, err)
	}
	return fmt.Errorf("validation failed for %s: %w", entityType, err)
}

// Validate checks a single worker descriptor. Defaults must already be applied.
func (d WorkerDescriptor) Validate() error {
	var errs ValidationErrors

	errs.addErr("", ValidateEntityName("name", d.Name, "worker"))
	errs.addErr("", ValidateEntityName("category", d.Category, "worker"))
	errs.addErr("", ValidateRequired("command", d.Command, "worker"))
	errs.addErr("", ValidatePort("port", d.Port, true))
	errs.addErr("", ValidateOneOf("protocol", d.Protocol, []string{ProtocolHTTP, ProtocolMCP}))

	for field, path := range map[string]string{
		"healthPath": d.HealthPath,
		"invokePath": d.InvokePath,
		"toolsPath":  d.ToolsPath,
		"mcpPath":    d.MCPPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs.Add(field, "must start with '/'", path)
		}
	}

	for key := range d.Env {
		if key == "" || strings.ContainsAny(key, "= ") {
			errs.Add("env", fmt.Sprintf("invalid environment variable name %q", key), key)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks the whole configuration and returns every problem found.
func (c FleetConfig) Validate() error {
	var errs ValidationErrors

	errs.addErr("server", ValidatePort("port", c.Server.Port, false))
	for i, key := range c.Server.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs.Add(fmt.Sprintf("server.apiKeys[%d]", i), "must not be empty")
		}
	}

	errs.addErr("router", ValidateOneOf("policy", c.Router.Policy, []string{PolicyRoundRobin, PolicyLeastLatency}))
	if c.Router.DefaultTimeout <= 0 {
		errs.Add("router.defaultTimeout", "must be positive", c.Router.DefaultTimeout)
	}
	if c.Router.MaxTimeout < c.Router.DefaultTimeout {
		errs.Add("router.maxTimeout", "must not be shorter than router.defaultTimeout", c.Router.MaxTimeout)
	}

	s := c.Supervisor
	if s.StartupGrace <= 0 {
		errs.Add("supervisor.startupGrace", "must be positive", s.StartupGrace)
	}
	if s.StartupProbeInterval <= 0 {
		errs.Add("supervisor.startupProbeInterval", "must be positive", s.StartupProbeInterval)
	}
	if s.UnhealthyThreshold < 1 {
		errs.Add("supervisor.unhealthyThreshold", "must be at least 1", s.UnhealthyThreshold)
	}
	if s.RestartBaseDelay <= 0 || s.RestartMaxDelay < s.RestartBaseDelay {
		errs.Add("supervisor.restartMaxDelay", "restart delays must be positive with max >= base", s.RestartMaxDelay)
	}
	if s.CrashLoopMaxRestarts < 1 {
		errs.Add("supervisor.crashLoopMaxRestarts", "must be at least 1", s.CrashLoopMaxRestarts)
	}
	if s.CrashLoopWindow <= 0 {
		errs.Add("supervisor.crashLoopWindow", "must be positive", s.CrashLoopWindow)
	}
	if s.StopGrace < 0 {
		errs.Add("supervisor.stopGrace", "must not be negative", s.StopGrace)
	}

	if c.Health.Interval <= 0 {
		errs.Add("health.interval", "must be positive", c.Health.Interval)
	}
	if c.Health.Timeout <= 0 || c.Health.Timeout >= c.Health.Interval {
		errs.Add("health.timeout", "must be positive and shorter than health.interval", c.Health.Timeout)
	}

	if c.Ports.MaxAttempts < 1 {
		errs.Add("ports.maxAttempts", "must be at least 1", c.Ports.MaxAttempts)
	}

	validateRateLimit(&errs, "rateLimits.invoke", c.RateLimits.Invoke)
	validateRateLimit(&errs, "rateLimits.admin", c.RateLimits.Admin)

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	errs.addErr("logging", ValidateOneOf("format", c.Logging.Format, []string{"text", "json"}))
	errs.addErr("tracing", ValidateOneOf("exporter", c.Tracing.Exporter, []string{TraceExporterNone, TraceExporterStdout}))

	seen := make(map[string]string, len(c.Workers))
	for i, w := range c.Workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if w.Name != "" {
			prefix = fmt.Sprintf("workers[%s]", w.Name)
		}
		if err := w.Validate(); err != nil {
			if list, ok := err.(ValidationErrors); ok {
				for _, v := range list {
					errs.addErr(prefix, v)
				}
			}
		}
		if prev, dup := seen[w.Name]; dup && w.Name != "" {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate worker name (first defined in %s)", prev), w.Name)
		}
		seen[w.Name] = w.Source
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateRateLimit(errs *ValidationErrors, field string, rl RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if rl.MaxRequests < 1 {
		errs.Add(field+".maxRequests", "must be at least 1", rl.MaxRequests)
	}
	if rl.Window <= 0 {
		errs.Add(field+".window", "must be positive", rl.Window)
	}
	if rl.BlockDuration < 0 {
		errs.Add(field+".blockDuration", "must not be negative", rl.BlockDuration)
	}
}
