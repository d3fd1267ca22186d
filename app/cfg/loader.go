package cfg

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/digest.db" description:"Path to the SQLite database file"`

	// HTTP surface
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for write endpoints (optional)"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://digest.example.com)"`

	// Paper source
	TopicsFile     string `long:"topics-file" env:"TOPICS_FILE" default:"./topics.yml" description:"YAML file with arXiv categories and relevance keywords"`
	ArxivEndpoint  string `long:"arxiv-endpoint" env:"ARXIV_ENDPOINT" default:"https://export.arxiv.org/api/query" description:"arXiv query API endpoint"`
	ArxivTimeout   int    `long:"arxiv-timeout" env:"ARXIV_TIMEOUT" default:"30" description:"Timeout in seconds for a single arXiv query"`
	MaxResults     int    `long:"max-results" env:"ARXIV_MAX_RESULTS" default:"20" description:"Maximum number of papers per digest"`
	SourceAttempts int    `long:"source-attempts" env:"SOURCE_ATTEMPTS" default:"3" description:"Attempts per arXiv query before giving up"`
	SourceBackoff  int    `long:"source-backoff" env:"SOURCE_BACKOFF" default:"1" description:"Initial backoff in seconds between arXiv attempts"`

	// Generation service
	LLMAPIKey           string  `long:"llm-api-key" env:"LLM_API_KEY" description:"Credential for the generation service (required)" required:"true"`
	LLMEndpoint         string  `long:"llm-endpoint" env:"LLM_ENDPOINT" default:"https://api.groq.com/openai/v1/chat/completions" description:"OpenAI-compatible chat completions endpoint"`
	LLMModel            string  `long:"llm-model" env:"LLM_MODEL" default:"llama-3.1-8b-instant" description:"Model identifier"`
	LLMMaxTokens        int     `long:"llm-max-tokens" env:"LLM_MAX_TOKENS" default:"4000" description:"Maximum output tokens"`
	LLMTemperature      float64 `long:"llm-temperature" env:"LLM_TEMPERATURE" default:"0.7" description:"Sampling temperature"`
	LLMTimeout          int     `long:"llm-timeout" env:"LLM_TIMEOUT" default:"60" description:"Timeout in seconds for a single generation call"`
	LLMRetries          int     `long:"llm-retries" env:"LLM_RETRIES" default:"2" description:"Retries for transient generation failures"`
	LLMBackoff          int     `long:"llm-backoff" env:"LLM_BACKOFF" default:"1" description:"Initial backoff in seconds between generation attempts"`
	LLMMaxResponseChars int     `long:"llm-max-response-chars" env:"LLM_MAX_RESPONSE_CHARS" default:"40000" description:"Generated text is truncated beyond this many characters"`

	// Scheduling
	ScheduleTime      string `long:"schedule-time" env:"SCHEDULE_TIME" default:"09:00" description:"Daily local time (HH:MM) for the scheduled digest"`
	SchedulerDisabled bool   `long:"scheduler-disabled" env:"SCHEDULER_DISABLED" description:"Do not arm the daily scheduler"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Research Digest/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for the schedule and timestamps (e.g., UTC, Europe/Berlin)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		BaseUrl:             raw.BaseUrl,
		TopicsFile:          raw.TopicsFile,
		ArxivEndpoint:       raw.ArxivEndpoint,
		ArxivTimeout:        raw.ArxivTimeout,
		MaxResults:          raw.MaxResults,
		SourceAttempts:      raw.SourceAttempts,
		SourceBackoff:       raw.SourceBackoff,
		LLMAPIKey:           raw.LLMAPIKey,
		LLMEndpoint:         raw.LLMEndpoint,
		LLMModel:            raw.LLMModel,
		LLMMaxTokens:        raw.LLMMaxTokens,
		LLMTemperature:      raw.LLMTemperature,
		LLMTimeout:          raw.LLMTimeout,
		LLMRetries:          raw.LLMRetries,
		LLMBackoff:          raw.LLMBackoff,
		LLMMaxResponseChars: raw.LLMMaxResponseChars,
		ScheduleTime:        raw.ScheduleTime,
		SchedulerDisabled:   raw.SchedulerDisabled,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

// Validate rejects values that would leave a run unbounded or unusable.
func (c *Cfg) Validate() error {
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return fmt.Errorf("llm api key is required")
	}

	positiveFields := map[string]int{
		"max results":            c.MaxResults,
		"arxiv timeout":          c.ArxivTimeout,
		"source attempts":        c.SourceAttempts,
		"llm max tokens":         c.LLMMaxTokens,
		"llm timeout":            c.LLMTimeout,
		"llm max response chars": c.LLMMaxResponseChars,
	}
	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"source backoff": c.SourceBackoff,
		"llm retries":    c.LLMRetries,
		"llm backoff":    c.LLMBackoff,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2, got %v", c.LLMTemperature)
	}

	if _, _, err := ParseScheduleTime(c.ScheduleTime); err != nil {
		return err
	}

	return nil
}

// ParseScheduleTime parses a wall-clock time in HH:MM form.
func ParseScheduleTime(value string) (int, int, error) {
	hourStr, minuteStr, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid schedule time %q: expected HH:MM", value)
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid schedule hour in %q", value)
	}

	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid schedule minute in %q", value)
	}

	return hour, minute, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
