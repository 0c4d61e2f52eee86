package scheduler_config

import (
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pricerus/internal/obs"
	intoutbox "github.com/NordCoder/Pricerus/internal/outbox"
	kafkainfra "github.com/NordCoder/Pricerus/internal/repository/kafka"
	pginfra "github.com/NordCoder/Pricerus/internal/repository/postgres"
)

type SchedCfg struct {
	Tick          time.Duration `mapstructure:"tick"`
	BatchLimit    int           `mapstructure:"batch_limit"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxPerUser    int           `mapstructure:"max_per_user"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

type HTTPScrape struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgents      []string      `mapstructure:"user_agents"`
	Proxies         []string      `mapstructure:"proxies"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	VerifyTLS       bool          `mapstructure:"verify_tls"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	// HostRPS caps requests per second to a single host; 0 disables the cap.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

type SMTP struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

type API struct {
	Addr       string   `mapstructure:"addr"`
	PublicKeys []string `mapstructure:"public_keys"`
	AdminKeys  []string `mapstructure:"admin_keys"`
}

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Config struct {
	App    App                       `mapstructure:"app"`
	DB     pginfra.Config            `mapstructure:"db"`
	Kafka  kafkainfra.ProducerConfig `mapstructure:"kafka"`
	Outbox intoutbox.Config          `mapstructure:"outbox"`
	Sched  SchedCfg                  `mapstructure:"sched"`
	HTTP   HTTPScrape                `mapstructure:"http"`
	SMTP   SMTP                      `mapstructure:"smtp"`
	API    API                       `mapstructure:"api"`
	OTEL   obs.OTELConfig            `mapstructure:"otel"`
	Log    obs.LogConfig             `mapstructure:"log"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	lc := c.Log
	lc.App, lc.Env, lc.Ver = c.App.Name, c.App.Env, c.App.Version
	return lc
}

func (c *Config) OTELConfig() *obs.OTELConfig {
	oc := c.OTEL
	if oc.ServiceName == "" {
		oc.ServiceName = c.App.Name
	}
	oc.Version, oc.Environment = c.App.Version, c.App.Env
	return &oc
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Sched.Tick <= 0 {
		errs = append(errs, fmt.Errorf("sched.tick must be > 0, got %s", c.Sched.Tick))
	}
	if c.Sched.BatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("sched.batch_limit must be > 0, got %d", c.Sched.BatchLimit))
	}
	if c.Sched.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("sched.max_concurrent must be > 0, got %d", c.Sched.MaxConcurrent))
	}
	if c.Sched.MaxPerUser <= 0 {
		errs = append(errs, fmt.Errorf("sched.max_per_user must be > 0, got %d", c.Sched.MaxPerUser))
	}
	if c.Sched.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sched.job_timeout must be > 0, got %s", c.Sched.JobTimeout))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be > 0, got %s", c.HTTP.Timeout))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is empty"))
	}
	return errors.Join(errs...)
}
