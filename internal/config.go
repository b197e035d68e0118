package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"

	"github.com/starford/md2backlog/internal/syncer"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Post types accepted by the configuration. Only issues are synchronized.
const (
	PostTypeIssue = syncer.PostTypeIssue
	PostTypeWiki  = "wiki"
)

// Placeholders written by init. They must be replaced before use.
const (
	PlaceholderHost        = "xxx.backlog.jp"
	PlaceholderAPIKey      = "yourApiKey"
	PlaceholderAccessToken = "yourAccessToken"
	PlaceholderProjectKey  = "yourProjectKey"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Backlog BacklogConfig     `yaml:"backlog"`
	Local   LocalConfig       `yaml:"local"`
	Journal JournalConfig     `yaml:"journal"`
	Watch   WatchConfig       `yaml:"watch"`
}

// SetDefaults fills every unset field from its default tag.
func (c *Config) SetDefaults() error {
	return defaults.Set(c)
}

// ApplyEnv overrides the Backlog and local settings from the environment,
// typically loaded from .env.
func (c *Config) ApplyEnv() {
	for _, o := range []struct {
		key    string
		target *string
	}{
		{"host", &c.Backlog.Host},
		{"api_key", &c.Backlog.APIKey},
		{"access_token", &c.Backlog.AccessToken},
		{"project_key", &c.Backlog.ProjectKey},
		{"post_type", &c.Backlog.PostType},
		{"priority", &c.Backlog.Priority},
		{"issue_type", &c.Backlog.IssueType},
		{"priority_id", &c.Backlog.PriorityID},
		{"issue_type_id", &c.Backlog.IssueTypeID},
		{"md_dir", &c.Local.Dir},
		{"attachment_dir", &c.Local.AttachmentDir},
	} {
		if v, ok := lookupEnv("backlog_" + o.key); ok {
			*o.target = v
		}
	}
}

// lookupEnv accepts both the upper-case and the lower-case spelling of key.
func lookupEnv(key string) (string, bool) {
	for _, k := range []string{strings.ToUpper(key), key} {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Backlog.Validate(); err != nil {
		return err
	}
	if err := c.Local.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format" default:"text"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.Required, validation.In(LogFormatText, LogFormatJSON)),
	)
}

// BacklogConfig identifies the space, the project and the credentials.
type BacklogConfig struct {
	Host        string `yaml:"host"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	ProjectKey  string `yaml:"project_key"`
	PostType    string `yaml:"post_type" default:"issue"`

	// Preferred classification names for new issues, and optional fixed ids.
	Priority    string `yaml:"priority" default:"中"`
	IssueType   string `yaml:"issue_type" default:"タスク"`
	PriorityID  string `yaml:"priority_id"`
	IssueTypeID string `yaml:"issue_type_id"`

	RequestsPerSecond float64       `yaml:"requests_per_second" default:"2"`
	Burst             int64         `yaml:"burst" default:"4"`
	Timeout           time.Duration `yaml:"timeout" default:"60s"`
}

// Validate validates the Backlog configuration.
func (c *BacklogConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required, notPlaceholder(PlaceholderHost)),
		validation.Field(&c.APIKey, notPlaceholder(PlaceholderAPIKey)),
		validation.Field(&c.AccessToken, notPlaceholder(PlaceholderAccessToken)),
		validation.Field(&c.ProjectKey, validation.Required, notPlaceholder(PlaceholderProjectKey)),
		validation.Field(&c.PostType, validation.Required, validation.In(PostTypeIssue, PostTypeWiki)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(int64(1))),
		validation.Field(&c.Timeout, validation.Required),
	); err != nil {
		return err
	}
	if c.APIKey == "" && c.AccessToken == "" {
		return errors.New("backlog: api_key or access_token is required")
	}
	if c.APIKey != "" && c.AccessToken != "" {
		return errors.New("backlog: set only one of api_key and access_token")
	}
	return nil
}

func notPlaceholder(v string) validation.Rule {
	return validation.NotIn(v).Error("is the .env template placeholder, set a real value")
}

// LocalConfig holds the layout of the local collection, relative to the
// workspace root.
type LocalConfig struct {
	Root          string `yaml:"root" default:"."`
	Dir           string `yaml:"dir" default:"docs"`
	AttachmentDir string `yaml:"attachment_dir" default:"docs/attachments"`
	CreateIndex   bool   `yaml:"create_index"`
	IndexFile     string `yaml:"index_file" default:"index.md"`
	IndexTitle    string `yaml:"index_title" default:"目次"`
}

// Validate validates the local configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.AttachmentDir, validation.Required),
		validation.Field(&c.IndexFile, validation.Required),
		validation.Field(&c.IndexTitle, validation.Required),
	)
}

// JournalConfig holds the sync journal location. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" default:".md2backlog.db"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce" default:"500ms"`
	PullSchedule string        `yaml:"pull_schedule"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required),
	); err != nil {
		return err
	}
	if c.PullSchedule != "" {
		if _, err := cron.ParseStandard(c.PullSchedule); err != nil {
			return fmt.Errorf("watch: pull_schedule: %w", err)
		}
	}
	return nil
}

// Settings converts the configuration into sync session settings.
func (c *Config) Settings() syncer.Settings {
	return syncer.Settings{
		Host:          c.Backlog.Host,
		ProjectKey:    c.Backlog.ProjectKey,
		PostType:      c.Backlog.PostType,
		LocalDir:      c.Local.Dir,
		AttachmentDir: c.Local.AttachmentDir,
		Priority:      c.Backlog.Priority,
		IssueType:     c.Backlog.IssueType,
		PriorityID:    c.Backlog.PriorityID,
		IssueTypeID:   c.Backlog.IssueTypeID,
		IndexFile:     c.Local.IndexFile,
		IndexTitle:    c.Local.IndexTitle,
	}
}

// NewDefaultConfig returns a new Config with the default values applied.
func NewDefaultConfig() *Config {
	c := &Config{}
	if err := c.SetDefaults(); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return c
}
