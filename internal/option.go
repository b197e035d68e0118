package internal

import (
	"io"
	"log/slog"
	"net/http"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	logger     *slog.Logger
	logOutput  io.Writer
	httpClient *http.Client
	baseURL    string
	version    string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithLogOutput sets where the configured logger writes. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithHTTPClient sets the HTTP client used for the Backlog API.
func WithHTTPClient(c *http.Client) Option {
	return func(a *application) {
		a.httpClient = c
	}
}

// WithBaseURL points the Backlog client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(a *application) {
		a.baseURL = u
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
