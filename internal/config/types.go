package config

import "time"

type Config struct {
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
	Policy  PolicyConfig  `yaml:"policy" json:"policy"`
	Poll    PollConfig    `yaml:"poll" json:"poll"`
	Group   GroupConfig   `yaml:"group" json:"group"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
	Bridge  BridgeConfig  `yaml:"bridge" json:"bridge"`
}

type GatewayConfig struct {
	Port int        `yaml:"port" json:"port"`
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

// PolicyConfig points at the external policy-evaluation service.
type PolicyConfig struct {
	BaseURL        string `yaml:"baseURL" json:"baseURL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"` // per-request budget for /vet_join and /vet_message
}

func (p PolicyConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type PollConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds" json:"intervalSeconds"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// GroupConfig identifies the monitored community and where welcome
// messages for approved members are delivered.
type GroupConfig struct {
	ID            string `yaml:"id" json:"id"`
	WelcomeChatID string `yaml:"welcomeChatId" json:"welcomeChatId"`
	WelcomeText   string `yaml:"welcomeText" json:"welcomeText"`
}

type AuditConfig struct {
	Dir           string `yaml:"dir" json:"dir"`
	RetentionDays int    `yaml:"retentionDays" json:"retentionDays"`
}

// BridgeConfig describes the out-of-process messaging-platform bridge
// that vetd launches and that connects back over /ws.
type BridgeConfig struct {
	ID      string            `yaml:"id" json:"id"`
	Path    string            `yaml:"path" json:"path"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Env     map[string]string `yaml:"env" json:"env"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 19820,
		},
		Policy: PolicyConfig{
			BaseURL:        "http://127.0.0.1:8000",
			TimeoutSeconds: 5,
		},
		Poll: PollConfig{
			IntervalSeconds: 45,
		},
		Group: GroupConfig{
			WelcomeText: "Welcome to the group! Please read the pinned rules.",
		},
		Audit: AuditConfig{
			Dir:           "logs",
			RetentionDays: 7,
		},
	}
}
