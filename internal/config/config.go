package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/notify"
)

// Config is the full runtime configuration. Values come from
// ./config/config.yaml, overridden by SCADA_* environment variables,
// with defaults for every knob.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Health   HealthConfig   `mapstructure:"health"`
	History  HistoryConfig  `mapstructure:"history"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Points   []PointConfig  `mapstructure:"points"`
	Rules    []RuleConfig   `mapstructure:"rules"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type ScanConfig struct {
	MaxPoints int `mapstructure:"max_points"`
}

type AlertingConfig struct {
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
}

type HealthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type HistoryConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Path              string `mapstructure:"path"`
	RetentionSchedule string `mapstructure:"retention_schedule"`
	RetentionDays     int    `mapstructure:"retention_days"`
}

// NotifyConfig configures delivery channels and the priority routing
// table. Routing keys are priority names; the single value "all"
// routes that priority to every registered channel.
type NotifyConfig struct {
	Routing map[string][]string `mapstructure:"routing"`
	Webhook WebhookConfig       `mapstructure:"webhook"`
	Email   EmailConfig         `mapstructure:"email"`
	SMS     SMSConfig           `mapstructure:"sms"`
	Slack   SlackConfig         `mapstructure:"slack"`
}

type WebhookConfig struct {
	URLs []string `mapstructure:"urls"`
}

type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type SMSConfig struct {
	AccountSID string   `mapstructure:"account_sid"`
	AuthToken  string   `mapstructure:"auth_token"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// PointConfig is the YAML shape of a monitoring point.
type PointConfig struct {
	ID            string              `mapstructure:"point_id"`
	Name          string              `mapstructure:"name"`
	DataType      string              `mapstructure:"data_type"`
	SourceAddress string              `mapstructure:"source_address"`
	Register      uint16              `mapstructure:"register"`
	ScanRateMS    int                 `mapstructure:"scan_rate_ms"`
	AlarmHigh     *float64            `mapstructure:"alarm_high"`
	AlarmLow      *float64            `mapstructure:"alarm_low"`
	WarningHigh   *float64            `mapstructure:"warning_high"`
	WarningLow    *float64            `mapstructure:"warning_low"`
	Deadband      float64             `mapstructure:"deadband"`
	Enabled       *bool               `mapstructure:"enabled"`
	Protocol      PointProtocolConfig `mapstructure:"protocol"`
}

type PointProtocolConfig struct {
	Protocol   string        `mapstructure:"protocol"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	SerialPort string        `mapstructure:"serial_port"`
	UnitID     uint8         `mapstructure:"unit_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	BaudRate   int           `mapstructure:"baud_rate"`
	Parity     string        `mapstructure:"parity"`
	StopBits   int           `mapstructure:"stop_bits"`
	ByteSize   int           `mapstructure:"byte_size"`
}

// RuleConfig is the YAML shape of an alert rule.
type RuleConfig struct {
	ID                      string `mapstructure:"rule_id"`
	Name                    string `mapstructure:"name"`
	Condition               string `mapstructure:"condition"`
	Type                    string `mapstructure:"alert_type"`
	Priority                string `mapstructure:"priority"`
	MessageTemplate         string `mapstructure:"message_template"`
	CooldownMinutes         int    `mapstructure:"cooldown_minutes"`
	Enabled                 *bool  `mapstructure:"enabled"`
	AcknowledgementRequired bool   `mapstructure:"acknowledgement_required"`
}

// Load reads ./config/config.yaml when present, applies environment
// overrides and defaults, and returns the typed configuration.
func Load() (*Config, error) {
	return LoadFrom("./config")
}

// LoadFrom reads config.yaml from the given directory. A missing file
// is not an error; defaults and environment variables still apply.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	v.SetEnvPrefix("SCADA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "scada-core")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("buffer.capacity", 10000)
	v.SetDefault("scan.max_points", 512)
	v.SetDefault("alerting.evaluation_interval", time.Second)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.interval", 10*time.Second)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "scada_history.db")
	v.SetDefault("history.retention_schedule", "0 0 3 * * *")
	v.SetDefault("history.retention_days", 30)
}

// ToModel converts the YAML point shape into the domain type.
// Enabled defaults to true when omitted.
func (p PointConfig) ToModel() (model.MonitoringPoint, error) {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	dataType := model.DataType(p.DataType)
	if dataType == "" {
		dataType = model.DataTypeFloat
	}

	point := model.MonitoringPoint{
		ID:            p.ID,
		Name:          p.Name,
		DataType:      dataType,
		SourceAddress: p.SourceAddress,
		Register:      p.Register,
		ScanRateMS:    p.ScanRateMS,
		AlarmHigh:     p.AlarmHigh,
		AlarmLow:      p.AlarmLow,
		WarningHigh:   p.WarningHigh,
		WarningLow:    p.WarningLow,
		Deadband:      p.Deadband,
		Enabled:       enabled,
		Protocol: model.ProtocolConfig{
			Protocol:   model.ProtocolType(p.Protocol.Protocol),
			Host:       p.Protocol.Host,
			Port:       p.Protocol.Port,
			SerialPort: p.Protocol.SerialPort,
			UnitID:     p.Protocol.UnitID,
			Timeout:    p.Protocol.Timeout,
			Retries:    p.Protocol.Retries,
			BaudRate:   p.Protocol.BaudRate,
			Parity:     p.Protocol.Parity,
			StopBits:   p.Protocol.StopBits,
			ByteSize:   p.Protocol.ByteSize,
		}.Normalized(),
	}

	if err := point.Validate(); err != nil {
		return model.MonitoringPoint{}, err
	}
	return point, nil
}

// ToModel converts the YAML rule shape into the domain type.
func (r RuleConfig) ToModel() (model.AlertRule, error) {
	priority, err := model.ParsePriority(r.Priority)
	if err != nil {
		return model.AlertRule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return model.AlertRule{
		ID:                      r.ID,
		Name:                    r.Name,
		Condition:               r.Condition,
		Type:                    model.AlertType(r.Type),
		Priority:                priority,
		MessageTemplate:         r.MessageTemplate,
		CooldownMinutes:         r.CooldownMinutes,
		Enabled:                 enabled,
		AcknowledgementRequired: r.AcknowledgementRequired,
	}, nil
}

// RoutingPolicy converts the configured routing table into the
// dispatcher's form. An empty table lets the dispatcher fall back to
// its defaults.
func (n NotifyConfig) RoutingPolicy() (notify.Routing, error) {
	if len(n.Routing) == 0 {
		return nil, nil
	}

	routing := make(notify.Routing, len(n.Routing))
	for name, channels := range n.Routing {
		priority, err := model.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("routing: %w", err)
		}
		if len(channels) == 1 && strings.EqualFold(channels[0], "all") {
			routing[priority] = nil
			continue
		}
		routing[priority] = channels
	}
	return routing, nil
}
