package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every service setting. Empty lists mean "use the package
// default" of the component consuming them.
type Config struct {
	Environment   string
	HTTPPort      string
	WorkDir       string
	DBPath        string
	InputDir      string
	OutputDir     string
	EnableWatcher bool
	BackfillLimit int
	WorkerCount   int
	QueueSize     int
	MaxRetry      int
	RetryDelay    time.Duration
	MinAudioBytes int64
	JobTimeout    time.Duration
	StageTimeout  time.Duration
	EnqueueWait   time.Duration
	FFMPEGBin     string
	ConvertAudio  bool
	StrictConfig  bool
	ConfigPath    string

	CRM      CRMConfig
	Speech   SpeechConfig
	Analysis AnalysisConfig
	Log      LogConfig
	GroupMe  GroupMeConfig
}

type CRMConfig struct {
	WebhookURL        string        `yaml:"webhook_url" json:"webhook_url"`
	AudioBaseURL      string        `yaml:"audio_base_url" json:"audio_base_url"`
	AppToken          string        `yaml:"app_token" json:"app_token"`
	Events            []string      `yaml:"events" json:"events"`
	CallProviders     []string      `yaml:"call_providers" json:"call_providers"`
	RecordingPaths    []string      `yaml:"recording_paths" json:"recording_paths"`
	RecordingURLPaths []string      `yaml:"recording_url_paths" json:"recording_url_paths"`
	OwnerPaths        []OwnerPath   `yaml:"owner_paths" json:"owner_paths"`
	Timeout           time.Duration `yaml:"-" json:"-"`
}

// OwnerPath is one step of the owner resolution chain.
type OwnerPath struct {
	Type string `yaml:"type" json:"type"`
	ID   string `yaml:"id" json:"id"`
}

type SpeechConfig struct {
	TranscriberURL string        `yaml:"transcriber_url" json:"transcriber_url"`
	DiarizerURL    string        `yaml:"diarizer_url" json:"diarizer_url"`
	Language       string        `yaml:"language" json:"language"`
	Timeout        time.Duration `yaml:"-" json:"-"`
}

type AnalysisConfig struct {
	ScriptsFile          string   `yaml:"scripts_file" json:"scripts_file"`
	RequiredPhrases      string   `yaml:"required_phrases" json:"required_phrases"`
	Keywords             []string `yaml:"keywords" json:"keywords"`
	PolitenessWords      []string `yaml:"politeness_words" json:"politeness_words"`
	PromisePhrases       []string `yaml:"promise_phrases" json:"promise_phrases"`
	AutoresponderPhrases []string `yaml:"autoresponder_phrases" json:"autoresponder_phrases"`
	MinInformativeWords  int      `yaml:"min_informative_words" json:"min_informative_words"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

type GroupMeConfig struct {
	BotID string
	URL   string
}

type fileConfig struct {
	Environment   string         `yaml:"environment" json:"environment"`
	HTTPPort      string         `yaml:"http_port" json:"http_port"`
	WorkDir       string         `yaml:"work_dir" json:"work_dir"`
	DBPath        string         `yaml:"db_path" json:"db_path"`
	InputDir      string         `yaml:"input_dir" json:"input_dir"`
	OutputDir     string         `yaml:"output_dir" json:"output_dir"`
	EnableWatcher *bool          `yaml:"enable_watcher" json:"enable_watcher"`
	BackfillLimit int            `yaml:"backfill_limit" json:"backfill_limit"`
	WorkerCount   int            `yaml:"worker_count" json:"worker_count"`
	QueueSize     int            `yaml:"queue_size" json:"queue_size"`
	MaxRetry      int            `yaml:"max_retry" json:"max_retry"`
	RetryDelay    string         `yaml:"retry_delay" json:"retry_delay"`
	MinAudioBytes int64          `yaml:"min_audio_bytes" json:"min_audio_bytes"`
	JobTimeout    string         `yaml:"job_timeout" json:"job_timeout"`
	StageTimeout  string         `yaml:"stage_timeout" json:"stage_timeout"`
	EnqueueWait   string         `yaml:"enqueue_wait" json:"enqueue_wait"`
	FFMPEGBin     string         `yaml:"ffmpeg_bin" json:"ffmpeg_bin"`
	ConvertAudio  *bool          `yaml:"convert_audio" json:"convert_audio"`
	CRM           CRMConfig      `yaml:"crm" json:"crm"`
	Speech        SpeechConfig   `yaml:"speech" json:"speech"`
	Analysis      AnalysisConfig `yaml:"analysis" json:"analysis"`
	Log           LogConfig      `yaml:"log" json:"log"`
}

const (
	defaultPort          = ":8080"
	defaultWorkDir       = "runtime/work"
	defaultInputDir      = "runtime/input"
	defaultOutputDir     = "runtime/output"
	defaultDBFile        = "calls.db"
	defaultConfigFile    = "config.yaml"
	defaultWorkerCount   = 2
	defaultQueueSize     = 100
	maxQueueSize         = 1024
	defaultMaxRetry      = 15
	defaultRetryDelay    = 20 * time.Second
	defaultEnqueueWait   = 30 * time.Second
	defaultMinAudioBytes = 5 * 1024
	defaultLanguage      = "ru"
)

var defaultEvents = []string{"ONCRMACTIVITYADD", "ONCRMACTIVITYUPDATE"}

// Load builds the configuration from defaults, the optional YAML file, the
// .env file and the environment, in that order of increasing precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
		ConfigPath:   getEnv("CONFIG_FILE", defaultConfigFile),
	}

	var fc fileConfig
	if _, statErr := os.Stat(cfg.ConfigPath); statErr == nil || os.Getenv("CONFIG_FILE") != "" {
		var err error
		fc, err = loadFileConfig(cfg.ConfigPath)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, err)
			}
			slog.Warn("config load failed, using defaults", "path", cfg.ConfigPath, "err", err)
			fc = fileConfig{}
		}
	}

	var errs []error
	strict := func(err error) {
		if err == nil {
			return
		}
		if cfg.StrictConfig {
			errs = append(errs, err)
			return
		}
		slog.Warn("invalid config value, using default", "err", err)
	}

	cfg.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), fc.Environment, "local")
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fc.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fc.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))
	cfg.InputDir = firstNonEmpty(os.Getenv("INPUT_DIR"), fc.InputDir, defaultInputDir)
	cfg.OutputDir = firstNonEmpty(os.Getenv("OUTPUT_DIR"), fc.OutputDir, defaultOutputDir)
	cfg.EnableWatcher = parseBoolEnvDefault("ENABLE_WATCHER", boolOr(fc.EnableWatcher, false))
	cfg.ConvertAudio = parseBoolEnvDefault("CONVERT_AUDIO", boolOr(fc.ConvertAudio, true))
	cfg.FFMPEGBin = firstNonEmpty(os.Getenv("FFMPEG_BIN"), fc.FFMPEGBin, "ffmpeg")

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), os.Getenv("PORT"), fc.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") && !strings.Contains(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	n, err := intSetting("BACKFILL_LIMIT", fc.BackfillLimit, 0)
	strict(err)
	cfg.BackfillLimit = clampInt(n, 0, 10000)
	n, err = intSetting("WORKER_COUNT", fc.WorkerCount, defaultWorkerCount)
	strict(err)
	cfg.WorkerCount = clampInt(n, 1, 64)
	n, err = intSetting("QUEUE_SIZE", fc.QueueSize, defaultQueueSize)
	strict(err)
	cfg.QueueSize = clampInt(n, 1, maxQueueSize)
	if cfg.QueueSize < cfg.WorkerCount {
		slog.Warn("QUEUE_SIZE raised to WORKER_COUNT", "queue_size", cfg.QueueSize, "workers", cfg.WorkerCount)
		cfg.QueueSize = cfg.WorkerCount
	}
	n, err = intSetting("MAX_RETRY", fc.MaxRetry, defaultMaxRetry)
	strict(err)
	cfg.MaxRetry = clampInt(n, 1, 1000)

	minBytes, err := intSetting("MIN_AUDIO_BYTES", int(fc.MinAudioBytes), defaultMinAudioBytes)
	strict(err)
	cfg.MinAudioBytes = int64(clampInt(minBytes, 0, 1<<30))

	cfg.RetryDelay, err = durationSetting("RETRY_DELAY", fc.RetryDelay, defaultRetryDelay)
	strict(err)
	cfg.JobTimeout, err = durationSetting("JOB_TIMEOUT", fc.JobTimeout, 0)
	strict(err)
	cfg.StageTimeout, err = durationSetting("STAGE_TIMEOUT", fc.StageTimeout, 0)
	strict(err)
	cfg.EnqueueWait, err = durationSetting("ENQUEUE_WAIT", fc.EnqueueWait, defaultEnqueueWait)
	strict(err)

	cfg.CRM = fc.CRM
	cfg.CRM.WebhookURL = firstNonEmpty(os.Getenv("BITRIX_WEBHOOK_URL"), fc.CRM.WebhookURL)
	cfg.CRM.AudioBaseURL = firstNonEmpty(os.Getenv("BITRIX_AUDIO_BASE_URL"), fc.CRM.AudioBaseURL)
	cfg.CRM.AppToken = firstNonEmpty(os.Getenv("BITRIX_APP_TOKEN"), fc.CRM.AppToken)
	cfg.CRM.Events = listSetting("BITRIX_EVENTS", fc.CRM.Events, defaultEvents)
	cfg.CRM.CallProviders = listSetting("CALL_PROVIDERS", fc.CRM.CallProviders, nil)
	cfg.CRM.RecordingPaths = listSetting("RECORDING_ID_PATHS", fc.CRM.RecordingPaths, nil)
	cfg.CRM.RecordingURLPaths = listSetting("RECORDING_URL_PATHS", fc.CRM.RecordingURLPaths, nil)
	if raw := strings.TrimSpace(os.Getenv("OWNER_PATHS")); raw != "" {
		paths, perr := parseOwnerPaths(raw)
		strict(perr)
		if perr == nil {
			cfg.CRM.OwnerPaths = paths
		}
	}
	cfg.CRM.Timeout, err = durationSetting("CRM_TIMEOUT", "", 30*time.Second)
	strict(err)

	cfg.Speech = fc.Speech
	cfg.Speech.TranscriberURL = firstNonEmpty(os.Getenv("TRANSCRIBER_URL"), fc.Speech.TranscriberURL)
	cfg.Speech.DiarizerURL = firstNonEmpty(os.Getenv("DIARIZER_URL"), fc.Speech.DiarizerURL)
	cfg.Speech.Language = firstNonEmpty(os.Getenv("LANGUAGE"), fc.Speech.Language, defaultLanguage)
	cfg.Speech.Timeout, err = durationSetting("SPEECH_TIMEOUT", "", 0)
	strict(err)

	cfg.Analysis = fc.Analysis
	cfg.Analysis.ScriptsFile = firstNonEmpty(os.Getenv("SCRIPTS_FILE"), fc.Analysis.ScriptsFile)
	cfg.Analysis.RequiredPhrases = firstNonEmpty(os.Getenv("REQUIRED_PHRASES"), fc.Analysis.RequiredPhrases)
	cfg.Analysis.Keywords = listSetting("KEYWORDS", fc.Analysis.Keywords, nil)
	cfg.Analysis.PolitenessWords = listSetting("POLITENESS_WORDS", fc.Analysis.PolitenessWords, nil)
	cfg.Analysis.PromisePhrases = listSetting("PROMISE_PHRASES", fc.Analysis.PromisePhrases, nil)
	cfg.Analysis.AutoresponderPhrases = listSetting("AUTORESPONDER_PHRASES", fc.Analysis.AutoresponderPhrases, nil)
	cfg.Analysis.MinInformativeWords, err = intSetting("MIN_INFORMATIVE_WORDS", fc.Analysis.MinInformativeWords, 0)
	strict(err)

	cfg.Log = fc.Log
	cfg.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.Log.Level, "info")
	cfg.Log.File = firstNonEmpty(os.Getenv("LOG_FILE"), fc.Log.File)
	cfg.Log.MaxSizeMB, err = intSetting("LOG_MAX_SIZE_MB", fc.Log.MaxSizeMB, 50)
	strict(err)
	cfg.Log.MaxBackups, err = intSetting("LOG_MAX_BACKUPS", fc.Log.MaxBackups, 5)
	strict(err)
	cfg.Log.MaxAgeDays, err = intSetting("LOG_MAX_AGE_DAYS", fc.Log.MaxAgeDays, 30)
	strict(err)

	cfg.GroupMe = GroupMeConfig{
		BotID: os.Getenv("GROUPME_BOT_ID"),
		URL:   getEnv("GROUPME_URL", "https://api.groupme.com/v3/bots/post"),
	}

	if err := validateConfig(cfg); err != nil {
		strict(err)
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return errors.New("WORK_DIR is required")
	}
	if cfg.EnableWatcher && strings.TrimSpace(cfg.InputDir) == "" {
		return errors.New("INPUT_DIR is required when the watcher is enabled")
	}
	if cfg.CRM.WebhookURL != "" && !strings.HasSuffix(cfg.CRM.WebhookURL, "/") {
		return fmt.Errorf("BITRIX_WEBHOOK_URL must end with a slash: %q", cfg.CRM.WebhookURL)
	}
	return nil
}

// parseOwnerPaths reads "TYPE_PATH|ID_PATH" pairs separated by commas.
func parseOwnerPaths(raw string) ([]OwnerPath, error) {
	var out []OwnerPath
	for _, item := range splitList(raw) {
		typ, id, ok := strings.Cut(item, "|")
		if !ok || strings.TrimSpace(typ) == "" || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid OWNER_PATHS entry %q", item)
		}
		out = append(out, OwnerPath{Type: strings.TrimSpace(typ), ID: strings.TrimSpace(id)})
	}
	return out, nil
}

func intSetting(key string, fileVal, def int) (int, error) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return pick(fileVal, def), fmt.Errorf("invalid %s=%q: %w", key, raw, err)
		}
		return n, nil
	}
	return pick(fileVal, def), nil
}

// durationSetting accepts Go durations ("20s") or plain seconds ("20").
func durationSetting(key, fileVal string, def time.Duration) (time.Duration, error) {
	fallback := def
	if fileVal != "" {
		if d, err := parseDuration(fileVal); err == nil {
			fallback = d
		} else {
			return def, fmt.Errorf("invalid %s in config file: %w", strings.ToLower(key), err)
		}
	}
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := parseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return d, nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func listSetting(key string, fileVal, def []string) []string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		return splitList(raw)
	}
	if len(fileVal) > 0 {
		return fileVal
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pick(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
