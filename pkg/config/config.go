package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the harvester
type Config struct {
	// Fetch client behaviour shared by search and page requests
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Search API used in keyword mode
	Search SearchConfig `yaml:"search" json:"search"`

	// Daily request quota for the search API
	Quota QuotaConfig `yaml:"quota" json:"quota"`

	// Orchestrator settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Keyword queue and generators
	Keywords KeywordConfig `yaml:"keywords" json:"keywords"`

	// Numeric ID range exploration
	Range RangeConfig `yaml:"range" json:"range"`

	// Page extraction selectors
	Extract ExtractConfig `yaml:"extract" json:"extract"`

	// Record sink
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Admin HTTP server with metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// FetchConfig holds rate limiting and retry configuration for all HTTP requests
type FetchConfig struct {
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	Jitter            time.Duration `yaml:"jitter" json:"jitter"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	NetworkMultiplier float64       `yaml:"network_multiplier" json:"network_multiplier"`
	MaxRetryAfter     time.Duration `yaml:"max_retry_after" json:"max_retry_after"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	UserAgents        []string      `yaml:"user_agents" json:"user_agents"`
	Referer           string        `yaml:"referer" json:"referer"`
	AllowedHosts      []string      `yaml:"allowed_hosts" json:"allowed_hosts"`
	RequiredMarkers   []string      `yaml:"required_markers" json:"required_markers"`
}

// SearchConfig holds search API configuration
type SearchConfig struct {
	Endpoint         string   `yaml:"endpoint" json:"endpoint"`
	ClientID         string   `yaml:"client_id" json:"client_id"`
	ClientSecret     string   `yaml:"client_secret" json:"-"`
	Profile          string   `yaml:"profile" json:"profile"`
	QuerySuffix      string   `yaml:"query_suffix" json:"query_suffix"`
	Display          int      `yaml:"display" json:"display"`
	MaxPages         int      `yaml:"max_pages" json:"max_pages"`
	CategoryMarker   string   `yaml:"category_marker" json:"category_marker"`
	DescriptionHints []string `yaml:"description_hints" json:"description_hints"`
	LinkMarkers      []string `yaml:"link_markers" json:"link_markers"`
}

// QuotaConfig holds the daily request quota
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit" json:"daily_limit"`
	File       string `yaml:"file" json:"file"`
}

// CrawlConfig holds orchestrator configuration
type CrawlConfig struct {
	MaxWorkers      int           `yaml:"max_workers" json:"max_workers"`
	MaxInFlight     int           `yaml:"max_in_flight" json:"max_in_flight"`
	MaxItems        int           `yaml:"max_items" json:"max_items"`
	CheckpointEvery int           `yaml:"checkpoint_every" json:"checkpoint_every"`
	GraceTimeout    time.Duration `yaml:"grace_timeout" json:"grace_timeout"`
	ForceRestart    bool          `yaml:"force_restart" json:"force_restart"`
}

// KeywordConfig holds keyword queue configuration
type KeywordConfig struct {
	Seeds         []string `yaml:"seeds" json:"seeds"`
	MaxNew        int      `yaml:"max_new" json:"max_new"`
	MaxRefills    int      `yaml:"max_refills" json:"max_refills"`
	SweepAlphabet []string `yaml:"sweep_alphabet" json:"sweep_alphabet"`
	CompanyTokens []string `yaml:"company_tokens" json:"company_tokens"`
	NameFields    []string `yaml:"name_fields" json:"name_fields"`
	ClassFields   []string `yaml:"class_fields" json:"class_fields"`
}

// MaxRangeSpan caps how many identifiers one range may cover
const MaxRangeSpan int64 = 20_000_000

// RangeConfig holds numeric ID range exploration settings
type RangeConfig struct {
	Start       int64  `yaml:"start" json:"start"`
	End         int64  `yaml:"end" json:"end"`
	URLTemplate string `yaml:"url_template" json:"url_template"`
	IDParam     string `yaml:"id_param" json:"id_param"`
	OffsetEvery int    `yaml:"offset_every" json:"offset_every"`
	Limit       int    `yaml:"limit" json:"limit"`
}

// ExtractConfig holds CSS selectors for page extraction
type ExtractConfig struct {
	// FetchPages fetches each search result page; when false records are built from search items alone
	FetchPages    bool              `yaml:"fetch_pages" json:"fetch_pages"`
	NameSelector  string            `yaml:"name_selector" json:"name_selector"`
	ValidSelector string            `yaml:"valid_selector" json:"valid_selector"`
	Fields        map[string]string `yaml:"fields" json:"fields"`
	// ProfileLabels maps definition-list labels to field names
	ProfileLabels map[string]string `yaml:"profile_labels" json:"profile_labels"`
	OriginField   string            `yaml:"origin_field" json:"origin_field"`
}

// StorageConfig selects and configures the record sink
type StorageConfig struct {
	Driver          string `yaml:"driver" json:"driver"`
	MongoURI        string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database" json:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection" json:"mongo_collection"`
	PostgresDSN     string `yaml:"postgres_dsn" json:"-"`
	PostgresTable   string `yaml:"postgres_table" json:"postgres_table"`
}

// MetricsConfig holds admin server configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Path joins name onto the output base directory
func (o OutputConfig) Path(name string) string {
	return filepath.Join(o.BaseDirectory, name)
}

// DefaultUserAgents is the identity pool rotated per request attempt
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			MinInterval:       500 * time.Millisecond,
			Jitter:            250 * time.Millisecond,
			RequestsPerMinute: 0,
			MaxAttempts:       3,
			BaseDelay:         1 * time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
			NetworkMultiplier: 1.5,
			MaxRetryAfter:     2 * time.Minute,
			Timeout:           15 * time.Second,
			UserAgents:        append([]string(nil), DefaultUserAgents...),
			Referer:           "https://terms.naver.com/list.naver?cid=51000&categoryId=51000",
			AllowedHosts:      []string{"terms.naver.com"},
			RequiredMarkers:   []string{"cid=51000"},
		},
		Search: SearchConfig{
			Endpoint:         "https://openapi.naver.com/v1/search/encyc.json",
			Profile:          "default",
			QuerySuffix:      "의약품",
			Display:          100,
			MaxPages:         1,
			CategoryMarker:   "의약품사전",
			DescriptionHints: []string{"성분", "효능", "효과", "부작용", "용법", "용량"},
			LinkMarkers:      []string{"terms.naver.com", "cid=51000"},
		},
		Quota: QuotaConfig{
			DailyLimit: 25000,
			File:       "daily_request_count.json",
		},
		Crawl: CrawlConfig{
			MaxWorkers:      4,
			MaxInFlight:     10,
			MaxItems:        0, // 0 means no limit
			CheckpointEvery: 10,
			GraceTimeout:    30 * time.Second,
		},
		Keywords: KeywordConfig{
			Seeds:         []string{"타이레놀", "아스피린", "이부프로펜", "판콜에이", "게보린"},
			MaxNew:        100,
			MaxRefills:    5,
			SweepAlphabet: []string{"가", "나", "다", "라", "마", "바", "사", "아", "자", "차", "카", "타", "파", "하"},
			CompanyTokens: []string{"제약", "약품", "바이오", "파마", "헬스케어"},
			NameFields:    []string{"korean_name", "english_name"},
			ClassFields:   []string{"category", "classification"},
		},
		Range: RangeConfig{
			Start:       2120920,
			End:         6730030,
			URLTemplate: "https://terms.naver.com/entry.naver?docId={id}&cid=51000&categoryId=51000",
			IDParam:     "docId",
			OffsetEvery: 10,
		},
		Extract: ExtractConfig{
			FetchPages:    true,
			NameSelector:  "h2.headword, h3.headword, div.word_head h2",
			ValidSelector: "p.cite a[href*='list.naver?cid=51000'], div.location_wrap a[href*='list.naver?cid=51000']",
			Fields: map[string]string{
				"english_name": "span.word_txt, p.eng_title",
				"summary":      "p.txt",
			},
			ProfileLabels: map[string]string{
				"분류":    "classification",
				"구분":    "category",
				"업체명":   "company",
				"성분/함량": "components_amount",
				"허가일":   "approval_date",
			},
			OriginField: "company",
		},
		Storage: StorageConfig{
			Driver:          "file",
			MongoDatabase:   "harvester",
			MongoCollection: "records",
			PostgresTable:   "records",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		Output: OutputConfig{
			BaseDirectory: "./collected_data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Search credentials
	if clientID := os.Getenv("HARVESTER_SEARCH_CLIENT_ID"); clientID != "" {
		c.Search.ClientID = clientID
	}
	if secret := os.Getenv("HARVESTER_SEARCH_CLIENT_SECRET"); secret != "" {
		c.Search.ClientSecret = secret
	}

	// Rate limiting
	if interval := os.Getenv("HARVESTER_MIN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_MIN_INTERVAL: %w", err))
		} else {
			c.Fetch.MinInterval = d
		}
	}
	if rpm := os.Getenv("HARVESTER_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.Fetch.RequestsPerMinute = val
		}
	}

	// Quota
	if limit := os.Getenv("HARVESTER_DAILY_LIMIT"); limit != "" {
		var val int
		fmt.Sscanf(limit, "%d", &val)
		if val > 0 {
			c.Quota.DailyLimit = val
		}
	}

	// Orchestrator
	if workers := os.Getenv("HARVESTER_MAX_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Crawl.MaxWorkers = val
		}
	}
	if items := os.Getenv("HARVESTER_MAX_ITEMS"); items != "" {
		var val int
		fmt.Sscanf(items, "%d", &val)
		if val >= 0 {
			c.Crawl.MaxItems = val
		}
	}

	// Output directory
	if outputDir := os.Getenv("HARVESTER_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	// Storage
	if driver := os.Getenv("HARVESTER_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = strings.ToLower(driver)
	}
	if uri := os.Getenv("HARVESTER_MONGO_URI"); uri != "" {
		c.Storage.MongoURI = uri
	}
	if dsn := os.Getenv("HARVESTER_POSTGRES_DSN"); dsn != "" {
		c.Storage.PostgresDSN = dsn
	}

	// Metrics
	if addr := os.Getenv("HARVESTER_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}

	// Logging level
	if logLevel := os.Getenv("HARVESTER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	// Check in order of precedence
	locations := []string{
		"harvester.yaml",
		"harvester.yml",
		filepath.Join(configHome, "harvester", "config.yaml"),
		filepath.Join(configHome, "harvester", "config.yml"),
		filepath.Join(home, ".harvester.yaml"),
		filepath.Join(home, ".harvester.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Validate fetch settings
	if c.Fetch.MinInterval < 0 {
		errs = append(errs, errors.New("min interval cannot be negative"))
	}
	if c.Fetch.Jitter < 0 {
		errs = append(errs, errors.New("jitter cannot be negative"))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.Fetch.BaseDelay <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if c.Fetch.MaxDelay < c.Fetch.BaseDelay {
		errs = append(errs, errors.New("max delay must not be below base delay"))
	}
	if c.Fetch.BackoffMultiplier <= 1 {
		errs = append(errs, errors.New("backoff multiplier must be greater than 1"))
	}
	if c.Fetch.NetworkMultiplier <= 1 {
		errs = append(errs, errors.New("network multiplier must be greater than 1"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if len(c.Fetch.UserAgents) == 0 {
		errs = append(errs, errors.New("at least one user agent is required"))
	}

	// Validate search settings
	if c.Search.Display <= 0 || c.Search.Display > 100 {
		errs = append(errs, errors.New("search display must be between 1 and 100"))
	}
	if c.Search.MaxPages <= 0 {
		errs = append(errs, errors.New("search max pages must be positive"))
	}

	// Validate quota
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, errors.New("daily limit must be positive"))
	}

	// Validate orchestrator settings
	if c.Crawl.MaxWorkers <= 0 {
		errs = append(errs, errors.New("max workers must be positive"))
	}
	if c.Crawl.MaxInFlight < c.Crawl.MaxWorkers {
		errs = append(errs, errors.New("max in flight must be at least max workers"))
	}
	if c.Crawl.MaxItems < 0 {
		errs = append(errs, errors.New("max items cannot be negative"))
	}
	if c.Crawl.CheckpointEvery <= 0 {
		errs = append(errs, errors.New("checkpoint interval must be positive"))
	}
	if c.Crawl.GraceTimeout < 0 {
		errs = append(errs, errors.New("grace timeout cannot be negative"))
	}

	// Validate range
	if c.Range.End < c.Range.Start {
		errs = append(errs, errors.New("range end must not be below range start"))
	} else if span := c.Range.End - c.Range.Start; span < 0 || span >= MaxRangeSpan {
		errs = append(errs, fmt.Errorf("range must not span more than %d identifiers", MaxRangeSpan))
	}
	if !strings.Contains(c.Range.URLTemplate, "{id}") {
		errs = append(errs, errors.New("range url template must contain {id}"))
	}

	// Validate storage
	switch strings.ToLower(c.Storage.Driver) {
	case "file":
	case "mongo":
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("mongo uri is required for the mongo driver"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver %q", c.Storage.Driver))
	}

	// Validate output settings
	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateSearch checks the settings only keyword mode needs
func (c *Config) ValidateSearch() error {
	var errs []error
	if c.Search.Endpoint == "" {
		errs = append(errs, errors.New("search endpoint is required"))
	}
	if c.Search.ClientID == "" {
		errs = append(errs, errors.New("search client id is required"))
	}
	if c.Search.ClientSecret == "" {
		errs = append(errs, errors.New("search client secret is required"))
	}
	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["data-dir"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Crawl.MaxWorkers = workers
		if c.Crawl.MaxInFlight < workers {
			c.Crawl.MaxInFlight = workers
		}
	}
	if maxItems, ok := flags["max-items"].(int); ok && maxItems > 0 {
		c.Crawl.MaxItems = maxItems
	}
	if force, ok := flags["force-restart"].(bool); ok && force {
		c.Crawl.ForceRestart = true
	}
	if start, ok := flags["start"].(int64); ok && start > 0 {
		c.Range.Start = start
	}
	if end, ok := flags["end"].(int64); ok && end > 0 {
		c.Range.End = end
	}
	if limit, ok := flags["limit"].(int); ok && limit > 0 {
		c.Range.Limit = limit
	}
	if interval, ok := flags["min-interval"].(time.Duration); ok && interval > 0 {
		c.Fetch.MinInterval = interval
	}
	if driver, ok := flags["storage"].(string); ok && driver != "" {
		c.Storage.Driver = strings.ToLower(driver)
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".harvester.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
