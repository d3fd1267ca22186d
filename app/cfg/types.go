package cfg

type Cfg struct {
	// Storage
	DBPath string

	// HTTP surface
	Port         string
	APIAccessKey string
	BaseUrl      string

	// Paper source
	TopicsFile     string
	ArxivEndpoint  string
	ArxivTimeout   int
	MaxResults     int
	SourceAttempts int
	SourceBackoff  int

	// Generation service
	LLMAPIKey           string
	LLMEndpoint         string
	LLMModel            string
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMTimeout          int
	LLMRetries          int
	LLMBackoff          int
	LLMMaxResponseChars int

	// Scheduling
	ScheduleTime      string
	SchedulerDisabled bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
