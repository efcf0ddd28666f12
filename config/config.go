/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"RECON_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"RECON_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RECON_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"RECON_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"RECON_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"RECON_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RECON_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RECON_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RECON_REDIS_SKIP_TLS_VERIFY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RECON_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RECON_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RECON_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"RECON_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"RECON_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type QueueConfig struct {
	ResolveQueue   string `json:"resolve_queue" envconfig:"RECON_QUEUE_RESOLVE"`
	SweepQueue     string `json:"sweep_queue" envconfig:"RECON_QUEUE_SWEEP"`
	RecomputeQueue string `json:"recompute_queue" envconfig:"RECON_QUEUE_RECOMPUTE"`
	AlertQueue     string `json:"alert_queue" envconfig:"RECON_QUEUE_ALERTS"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"RECON_QUEUE_WEBHOOKS"`
	Concurrency    int    `json:"concurrency" envconfig:"RECON_QUEUE_CONCURRENCY"`
	MaxRetry       int    `json:"max_retry" envconfig:"RECON_QUEUE_MAX_RETRY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"RECON_QUEUE_MONITORING_PORT"`
}

// MatchingConfig holds the scoring weights and candidate search bounds.
type MatchingConfig struct {
	AmountWeight       float64 `json:"amount_weight" envconfig:"RECON_MATCHING_AMOUNT_WEIGHT"`
	DateWeight         float64 `json:"date_weight" envconfig:"RECON_MATCHING_DATE_WEIGHT"`
	CounterpartyWeight float64 `json:"counterparty_weight" envconfig:"RECON_MATCHING_COUNTERPARTY_WEIGHT"`
	DateWindowDays     int     `json:"date_window_days" envconfig:"RECON_MATCHING_DATE_WINDOW_DAYS"`
	AutoApplyThreshold float64 `json:"auto_apply_threshold" envconfig:"RECON_MATCHING_AUTO_APPLY_THRESHOLD"`
	MinCandidateScore  float64 `json:"min_candidate_score" envconfig:"RECON_MATCHING_MIN_CANDIDATE_SCORE"`
	AmountEpsilon      int64   `json:"amount_epsilon" envconfig:"RECON_MATCHING_AMOUNT_EPSILON"`
	MaxSplitItems      int     `json:"max_split_items" envconfig:"RECON_MATCHING_MAX_SPLIT_ITEMS"`
	SplitScoreCap      float64 `json:"split_score_cap" envconfig:"RECON_MATCHING_SPLIT_SCORE_CAP"`
	SuggestionLimit    int     `json:"suggestion_limit" envconfig:"RECON_MATCHING_SUGGESTION_LIMIT"`
	SweepBatchSize     int     `json:"sweep_batch_size" envconfig:"RECON_MATCHING_SWEEP_BATCH_SIZE"`
	SweepWorkers       int     `json:"sweep_workers" envconfig:"RECON_MATCHING_SWEEP_WORKERS"`
	OpenItemCacheSec   int     `json:"open_item_cache_sec" envconfig:"RECON_MATCHING_OPEN_ITEM_CACHE_SEC"`
}

type LedgerConfig struct {
	Url               string            `json:"url" envconfig:"RECON_LEDGER_URL"`
	Headers           map[string]string `json:"headers"`
	TimeoutSec        int               `json:"timeout_sec" envconfig:"RECON_LEDGER_TIMEOUT_SEC"`
	MaxRetries        int               `json:"max_retries" envconfig:"RECON_LEDGER_MAX_RETRIES"`
	InitialIntervalMs int               `json:"initial_interval_ms" envconfig:"RECON_LEDGER_INITIAL_INTERVAL_MS"`
	MaxIntervalMs     int               `json:"max_interval_ms" envconfig:"RECON_LEDGER_MAX_INTERVAL_MS"`

	// Background re-confirmation of matches whose ledger post never landed.
	RecoveryIntervalSec  int `json:"recovery_interval_sec" envconfig:"RECON_LEDGER_RECOVERY_INTERVAL_SEC"`
	RecoveryWorkers      int `json:"recovery_workers" envconfig:"RECON_LEDGER_RECOVERY_WORKERS"`
	RecoveryAttemptLimit int `json:"recovery_attempt_limit" envconfig:"RECON_LEDGER_RECOVERY_ATTEMPT_LIMIT"`
}

type PeriodConfig struct {
	LockTimeoutSec int `json:"lock_timeout_sec" envconfig:"RECON_PERIODS_LOCK_TIMEOUT_SEC"`
	LockWaitSec    int `json:"lock_wait_sec" envconfig:"RECON_PERIODS_LOCK_WAIT_SEC"`
	StalenessHours int `json:"staleness_hours" envconfig:"RECON_PERIODS_STALENESS_HOURS"`
}

type OtelConfig struct {
	OtelExporterOtlpProtocol string `json:"otel_exporter_otlp_protocol" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"otel_exporter_otlp_headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"RECON_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"RECON_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Queue           QueueConfig      `json:"queue"`
	Matching        MatchingConfig   `json:"matching"`
	Ledger          LedgerConfig     `json:"ledger"`
	Periods         PeriodConfig     `json:"periods"`
	Otel            OtelConfig       `json:"otel"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("recon", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called recon.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Recon Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ledger.Url = strings.TrimSpace(cnf.Ledger.Url)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		log.Printf("Warning: Rate limit cleanup interval not specified. Setting default value: %d seconds", defaultCleanup)
	}

	cnf.Queue.setDefaults()
	cnf.Ledger.setDefaults()
	cnf.Periods.setDefaults()
	return cnf.Matching.setDefaults()
}

func (q *QueueConfig) setDefaults() {
	if q.ResolveQueue == "" {
		q.ResolveQueue = "recon:resolve"
	}
	if q.SweepQueue == "" {
		q.SweepQueue = "recon:sweep"
	}
	if q.RecomputeQueue == "" {
		q.RecomputeQueue = "recon:recompute"
	}
	if q.AlertQueue == "" {
		q.AlertQueue = "recon:alerts"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "recon:webhooks"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 20
	}
	if q.MaxRetry <= 0 {
		q.MaxRetry = 5
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
}

func (l *LedgerConfig) setDefaults() {
	if l.Url == "" {
		log.Println("Warning: Ledger URL is empty. Ledger applications will fail until it is set.")
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 10
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 5
	}
	if l.InitialIntervalMs <= 0 {
		l.InitialIntervalMs = 200
	}
	if l.MaxIntervalMs <= 0 {
		l.MaxIntervalMs = 5000
	}
	if l.RecoveryIntervalSec <= 0 {
		l.RecoveryIntervalSec = 60
	}
	if l.RecoveryWorkers <= 0 {
		l.RecoveryWorkers = 4
	}
	if l.RecoveryAttemptLimit <= 0 {
		l.RecoveryAttemptLimit = 25
	}
}

func (p *PeriodConfig) setDefaults() {
	if p.LockTimeoutSec <= 0 {
		p.LockTimeoutSec = 30
	}
	if p.LockWaitSec <= 0 {
		p.LockWaitSec = 10
	}
	if p.StalenessHours <= 0 {
		p.StalenessHours = 72
	}
}

// setDefaults fills unset matching parameters. Weights are only defaulted when all
// three are unset; a partial set must still sum to 1.
func (m *MatchingConfig) setDefaults() error {
	if m.AmountWeight == 0 && m.DateWeight == 0 && m.CounterpartyWeight == 0 {
		m.AmountWeight, m.DateWeight, m.CounterpartyWeight = 0.5, 0.2, 0.3
	}
	if m.AmountWeight < 0 || m.DateWeight < 0 || m.CounterpartyWeight < 0 {
		return errors.New("matching weights must not be negative")
	}
	if sum := m.AmountWeight + m.DateWeight + m.CounterpartyWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("matching weights must sum to 1, got %.4f", sum)
	}
	if m.DateWindowDays <= 0 {
		m.DateWindowDays = 45
	}
	if m.AutoApplyThreshold <= 0 {
		m.AutoApplyThreshold = 90
	}
	if m.MinCandidateScore <= 0 {
		m.MinCandidateScore = 20
	}
	if m.AmountEpsilon <= 0 {
		m.AmountEpsilon = 1
	}
	if m.MaxSplitItems <= 0 {
		m.MaxSplitItems = 12
	}
	if m.SplitScoreCap <= 0 {
		m.SplitScoreCap = 85
	}
	if m.SuggestionLimit <= 0 {
		m.SuggestionLimit = 3
	}
	if m.SweepBatchSize <= 0 {
		m.SweepBatchSize = 100
	}
	if m.SweepWorkers <= 0 {
		m.SweepWorkers = 4
	}
	if m.OpenItemCacheSec <= 0 {
		m.OpenItemCacheSec = 30
	}
	return nil
}

// WithDefaults returns a copy of m with unset parameters filled in.
func (m MatchingConfig) WithDefaults() (MatchingConfig, error) {
	err := m.setDefaults()
	return m, err
}

// WithDefaults returns a copy of p with unset parameters filled in.
func (p PeriodConfig) WithDefaults() PeriodConfig {
	p.setDefaults()
	return p
}

// WithDefaults returns a copy of l with unset parameters filled in.
func (l LedgerConfig) WithDefaults() LedgerConfig {
	l.setDefaults()
	return l
}

// DefaultMatchingConfig returns the matching parameters used when nothing is configured.
func DefaultMatchingConfig() MatchingConfig {
	var m MatchingConfig
	_ = m.setDefaults()
	return m
}

// SetOtelExporterEnvs exports the OTLP settings so the exporter picks them up.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.Otel.OtelExporterOtlpProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.Otel.OtelExporterOtlpEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.Otel.OtelExporterOtlpHeaders,
	}
	for key, value := range envs {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
