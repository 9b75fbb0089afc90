// Package config holds the server's startup configuration: flags merged
// over an optional YAML file, normalized and validated before anything
// connects to the backend.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete startup configuration.
type Config struct {
	// Organization is the Azure DevOps organization name. May contain
	// spaces; URL construction escapes it.
	Organization string `yaml:"organization" validate:"required"`

	// Project is the project name. When empty, it is derived from the
	// first backslash segment of AreaPath.
	Project string `yaml:"project" validate:"required_without=AreaPath"`

	// AreaPath scopes queries to one area. Its first backslash segment
	// names the project.
	AreaPath string `yaml:"areaPath"`

	// AreaPaths optionally lists additional area paths for multi-area
	// setups.
	AreaPaths []string `yaml:"areaPaths"`

	// CopilotGUID identifies the automation account whose activity is
	// filtered out of staleness calculations.
	CopilotGUID string `yaml:"copilotGuid" validate:"omitempty,uuid"`

	// Verbose enables debug logging. MCP_DEBUG=1 has the same effect.
	Verbose bool `yaml:"verbose"`

	// AutoLaunchBrowser lets the credential source open a browser for
	// interactive login. Off by default so headless hosts never hang.
	AutoLaunchBrowser bool `yaml:"autoLaunchBrowser"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads a YAML config file. Environment references like
// ${ADO_ORG} are expanded before parsing; unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse([]byte(os.ExpandEnv(string(data))))
}

func parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single document")
	}
	return &cfg, nil
}

// Normalize fills derived fields: a missing project is taken from the
// area path's leading segment.
func (c *Config) Normalize() {
	c.Organization = strings.TrimSpace(c.Organization)
	c.Project = strings.TrimSpace(c.Project)
	c.AreaPath = strings.TrimSpace(c.AreaPath)
	if c.Project == "" && c.AreaPath != "" {
		c.Project = c.AreaPath
		if i := strings.Index(c.AreaPath, "\\"); i >= 0 {
			c.Project = c.AreaPath[:i]
		}
	}
}

// Validate checks the normalized configuration. Messages name the
// offending field so startup failures are actionable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s", describeViolation(verrs[0]))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func describeViolation(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("either %s or areaPath must be set", field)
	case "uuid":
		return fmt.Sprintf("%s must be a GUID", field)
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
