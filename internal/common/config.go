package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Credentials CredentialsConfig `toml:"credentials"`
	Browser     BrowserConfig     `toml:"browser"`
	Refresh     RefreshConfig     `toml:"refresh"`
	Mail        MailConfig        `toml:"mail"`
	Admin       AdminConfig       `toml:"admin"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Selectors   SelectorsConfig   `toml:"selectors"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// UpstreamConfig describes the gated backend the proxy forwards to.
type UpstreamConfig struct {
	BaseURL        string   `toml:"base_url" validate:"required,url"` // e.g. "https://chatgpt.hku.hk"
	CompletionsURL string   `toml:"completions_url"`                  // full chat-completions endpoint
	ModelsURL      string   `toml:"models_url"`                       // model listing endpoint
	RequestTimeout Duration `toml:"request_timeout"`                  // non-streaming upstream timeout
	RateLimit      float64  `toml:"rate_limit"`                       // upstream requests per second
	RateBurst      int      `toml:"rate_burst"`
}

// CredentialsConfig holds the SSO identity. Immutable per process lifetime.
// The secret is never logged in cleartext.
type CredentialsConfig struct {
	Email    string `toml:"email" validate:"required,email"`
	Password string `toml:"password" validate:"required"`
}

// BrowserConfig contains login automation settings. The user data dir is the
// persistent session artifact that lets the automator skip a full login while
// the remote session is still valid.
type BrowserConfig struct {
	AppURL              string   `toml:"app_url" validate:"required,url"` // target application entry page
	UserDataDir         string   `toml:"user_data_dir"`
	TraceDir            string   `toml:"trace_dir"`
	MaxTraces           int      `toml:"max_traces"` // debugging trace ring size
	UserAgent           string   `toml:"user_agent"`
	NoSandbox           bool     `toml:"no_sandbox"`
	DisableGPU          bool     `toml:"disable_gpu"`
	CompletionsMarker   string   `toml:"completions_marker"`    // URL substring identifying the token-bearing request
	SessionProbeTimeout Duration `toml:"session_probe_timeout"` // wait for post-login UI before attempting login
	LoginWaitTimeout    Duration `toml:"login_wait_timeout"`    // bounded wait racing the post-password screens
	MFAWindow           Duration `toml:"mfa_window"`            // number-matching approval window
	CaptureTimeout      Duration `toml:"capture_timeout"`       // wait for token capture after login
	PollInterval        Duration `toml:"poll_interval"`         // screen probe tick
	MFADenyRetries      int      `toml:"mfa_deny_retries"`      // new challenges requested after a denial
}

// RefreshConfig tunes the background renewal scheduler. The retry backoff
// table and the pause threshold are deliberately configuration, not logic.
type RefreshConfig struct {
	Interval       Duration   `toml:"interval"`        // steady-state time between refreshes
	RetryBackoff   []Duration `toml:"retry_backoff"`   // soft-failure retry table; exhausted -> paused
	TransientRetry Duration   `toml:"transient_retry"` // sleep after unexpected infrastructure errors
	Cron           string     `toml:"cron"`            // optional cron expression forcing extra refreshes
}

// MailConfig holds SMTP settings for the MFA notifier.
type MailConfig struct {
	Host        string     `toml:"host"`
	Port        int        `toml:"port"`
	Username    string     `toml:"username"`
	Password    string     `toml:"password"`
	From        string     `toml:"from"`
	FromName    string     `toml:"from_name"`
	To          string     `toml:"to"` // human recipient for MFA challenges and pause alerts
	UseTLS      bool       `toml:"use_tls"`
	Timezone    string     `toml:"timezone"`     // IANA zone for human-readable deadlines
	RetryDelays []Duration `toml:"retry_delays"` // delay before each send attempt
}

// AdminConfig secures the administrative surface (token push, forced refresh).
type AdminConfig struct {
	APIKey string `toml:"api_key" validate:"required"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Path string `toml:"path"` // BadgerDB directory for the persisted token
}

// SelectorsConfig isolates the volatile UI element identification from the
// login state machine. The target application's markup changes over time;
// every selector here can be overridden from the config file without touching
// control flow. Defaults match the Microsoft SSO flow the university uses.
type SelectorsConfig struct {
	ChatTextarea    string `toml:"chat_textarea"`     // post-login UI affordance
	SendButton      string `toml:"send_button"`       // triggers the token-bearing request
	SignInText      string `toml:"sign_in_text"`      // visible text of the app's sign-in button
	EmailInput      string `toml:"email_input"`
	EmailSubmit     string `toml:"email_submit"`
	PasswordInput   string `toml:"password_input"`
	PasswordSubmit  string `toml:"password_submit"`
	StaySignedIn    string `toml:"stay_signed_in"`    // "remember this device" confirmation
	MFANumber       string `toml:"mfa_number"`        // number-matching challenge display
	MFAMethodList   string `toml:"mfa_method_list"`   // method-selection screen container
	MFAMethodNotify string `toml:"mfa_method_notify"` // notification-app method entry
	MFADenied       string `toml:"mfa_denied"`        // explicit denial screen
	MFAResend       string `toml:"mfa_resend"`        // request a fresh challenge after denial
	SSOError        string `toml:"sso_error"`         // provider-displayed error banner
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in myapi.toml; timing
// parameters default to the values observed against the live provider.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "localhost",
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://chatgpt.hku.hk",
			CompletionsURL: "https://chatgpt.hku.hk/api/chat/completions",
			ModelsURL:      "https://chatgpt.hku.hk/api/models",
			RequestTimeout: Duration(120 * time.Second),
			RateLimit:      5,
			RateBurst:      10,
		},
		Browser: BrowserConfig{
			AppURL:              "https://chatgpt.hku.hk/",
			UserDataDir:         "./browser-profile",
			TraceDir:            "./traces",
			MaxTraces:           5,
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
			NoSandbox:           false,
			DisableGPU:          true,
			CompletionsMarker:   "completions",
			SessionProbeTimeout: Duration(30 * time.Second),
			LoginWaitTimeout:    Duration(20 * time.Second),
			MFAWindow:           Duration(285 * time.Second),
			CaptureTimeout:      Duration(180 * time.Second),
			PollInterval:        Duration(500 * time.Millisecond),
			MFADenyRetries:      3,
		},
		Refresh: RefreshConfig{
			Interval:       Duration(6 * time.Hour),
			RetryBackoff:   []Duration{Duration(1 * time.Minute), Duration(5 * time.Minute)},
			TransientRetry: Duration(1 * time.Minute),
			Cron:           "",
		},
		Mail: MailConfig{
			Port:        587,
			FromName:    "MyAPI Token Refresher",
			UseTLS:      true,
			Timezone:    "Asia/Hong_Kong",
			RetryDelays: []Duration{0, Duration(90 * time.Second), Duration(105 * time.Second)},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Path: "./data",
		},
		Selectors: DefaultSelectors(),
	}
}

// DefaultSelectors returns the selector set matching the current Microsoft
// SSO markup. Kept separate so tests and config overrides compose cleanly.
func DefaultSelectors() SelectorsConfig {
	return SelectorsConfig{
		ChatTextarea:    "#chat-textarea",
		SendButton:      `[data-testid="send-button"]`,
		SignInText:      "Sign In",
		EmailInput:      `input[type="email"]`,
		EmailSubmit:     `input[type="submit"]`,
		PasswordInput:   "#passwordInput",
		PasswordSubmit:  "#submitButton",
		StaySignedIn:    `[data-testid="KmsiYes"], #idSIButton9, input[type="submit"][value="Yes"], input[type="submit"][value="是"]`,
		MFANumber:       "#idRichContext_DisplaySign",
		MFAMethodList:   "#idDiv_SAOTCS_Proofs",
		MFAMethodNotify: `div[data-value="PhoneAppNotification"]`,
		MFADenied:       "#idDiv_SAASDS_Title",
		MFAResend:       "#idA_SAASTO_Resend",
		SSOError:        "#service_exception_message",
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files in order; later files
// override earlier ones. Priority: CLI flags > environment > last file > ...
// > first file > defaults. Flag overrides are applied by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// Validate checks the resolved configuration. Called after flag overrides so
// the error reflects what the process will actually run with.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Refresh.RetryBackoff) == 0 {
		return fmt.Errorf("invalid configuration: refresh.retry_backoff must have at least one entry")
	}
	if c.Browser.MaxTraces < 1 {
		return fmt.Errorf("invalid configuration: browser.max_traces must be at least 1")
	}
	if _, err := time.LoadLocation(c.Mail.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: mail.timezone: %w", err)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MYAPI_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("MYAPI_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MYAPI_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Credentials (kept out of the config file in containerized deployments)
	if email := os.Getenv("HKU_EMAIL"); email != "" {
		config.Credentials.Email = email
	}
	if password := os.Getenv("HKU_PASSWORD"); password != "" {
		config.Credentials.Password = password
	}
	if key := os.Getenv("ADMIN_API_KEY"); key != "" {
		config.Admin.APIKey = key
	}

	// Mail configuration
	if host := os.Getenv("MYAPI_MAIL_HOST"); host != "" {
		config.Mail.Host = host
	}
	if port := os.Getenv("MYAPI_MAIL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Mail.Port = p
		}
	}
	if username := os.Getenv("MYAPI_MAIL_USERNAME"); username != "" {
		config.Mail.Username = username
	}
	if password := os.Getenv("MYAPI_MAIL_PASSWORD"); password != "" {
		config.Mail.Password = password
	}
	if from := os.Getenv("MYAPI_MAIL_FROM"); from != "" {
		config.Mail.From = from
	}
	if to := os.Getenv("MYAPI_MAIL_TO"); to != "" {
		config.Mail.To = to
	}

	// Refresh configuration
	if interval := os.Getenv("MYAPI_REFRESH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Refresh.Interval = Duration(d)
		}
	}
	if cronExpr := os.Getenv("MYAPI_REFRESH_CRON"); cronExpr != "" {
		config.Refresh.Cron = cronExpr
	}

	// Browser configuration
	if dir := os.Getenv("MYAPI_BROWSER_USER_DATA_DIR"); dir != "" {
		config.Browser.UserDataDir = dir
	}
	if dir := os.Getenv("MYAPI_BROWSER_TRACE_DIR"); dir != "" {
		config.Browser.TraceDir = dir
	}
	if noSandbox := os.Getenv("MYAPI_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = ns
		}
	}

	// Storage configuration
	if path := os.Getenv("MYAPI_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}

	// Logging configuration
	if level := os.Getenv("MYAPI_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MYAPI_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}
