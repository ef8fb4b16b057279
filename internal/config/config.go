package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Boards    []BoardConfig   `mapstructure:"boards"`
	PBX       PBXConfig       `mapstructure:"pbx"`
	Recording RecordingConfig `mapstructure:"recording"`
	Calling   CallingConfig   `mapstructure:"calling"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Users     UsersConfig     `mapstructure:"users"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// DriverConfig sizes the per-device dispatch queues and the channel lock budget.
type DriverConfig struct {
	EventFifoSize   int    `mapstructure:"event_fifo_size"`
	CommandFifoSize int    `mapstructure:"command_fifo_size"`
	LockRetries     int    `mapstructure:"lock_retries"`
	LockDelayMs     int    `mapstructure:"lock_delay_ms"`
	DropCollectCall bool   `mapstructure:"drop_collect_call"`
	Country         string `mapstructure:"country"`
	// Options holds raw overrides applied to the typed option table, see Options().
	Options map[string]string `mapstructure:"options"`
}

// AudioConfig holds the packet durations for both sides of the audio path.
// Sizes are derived at 8 kHz / 8-bit, so one millisecond is eight bytes.
type AudioConfig struct {
	PBXPacketMs    int    `mapstructure:"pbx_packet_ms"`
	HWPacketMs     int    `mapstructure:"hw_packet_ms"`
	FramesInFlight int    `mapstructure:"frames_in_flight"`
	Codec          string `mapstructure:"codec"`
}

// BoardConfig describes one simulated board when no hardware runtime is attached.
type BoardConfig struct {
	Serial    string `mapstructure:"serial"`
	Channels  int    `mapstructure:"channels"`
	Signaling string `mapstructure:"signaling"`
}

// PBXConfig drives the built-in switch that owns calls in standalone mode.
type PBXConfig struct {
	AutoAnswer    bool   `mapstructure:"auto_answer"`
	AnswerDelayMs int    `mapstructure:"answer_delay_ms"`
	Media         string `mapstructure:"media"` // echo, silence
}

type RecordingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

type CallingConfig struct {
	STUNServers []string `mapstructure:"stun_servers"`
	UDPPortMin  uint16   `mapstructure:"udp_port_min"`
	UDPPortMax  uint16   `mapstructure:"udp_port_max"`
}

type WebhookConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
	SlackURL       string `mapstructure:"slack_url"`
}

type UsersConfig struct {
	DefaultAdminPassword string `mapstructure:"default_admin_password"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var AppConfig Config

func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	applyDefaults(&AppConfig)
	if _, err := AppConfig.Options(); err != nil {
		log.Printf("Warning: invalid driver option: %v", err)
	}

	log.Println("Configuration loaded successfully")
}

// Defaults returns a fully defaulted configuration, used by tests and demo setups.
func Defaults() Config {
	var c Config
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "trunkie.db"
	}
	if c.Driver.EventFifoSize <= 0 {
		c.Driver.EventFifoSize = 500
	}
	if c.Driver.CommandFifoSize <= 0 {
		c.Driver.CommandFifoSize = 250
	}
	if c.Driver.LockRetries <= 0 {
		c.Driver.LockRetries = 25
	}
	if c.Driver.LockDelayMs <= 0 {
		c.Driver.LockDelayMs = 100
	}
	if c.Driver.Country == "" {
		c.Driver.Country = "brazil"
	}
	if c.Audio.PBXPacketMs <= 0 {
		c.Audio.PBXPacketMs = 20
	}
	if c.Audio.HWPacketMs <= 0 {
		c.Audio.HWPacketMs = 16
	}
	if c.Audio.FramesInFlight <= 0 {
		c.Audio.FramesInFlight = 10
	}
	if c.Audio.Codec == "" {
		c.Audio.Codec = "alaw"
	}
	for i := range c.Boards {
		if c.Boards[i].Channels <= 0 {
			c.Boards[i].Channels = 30
		}
		if c.Boards[i].Signaling == "" {
			c.Boards[i].Signaling = "isdn"
		}
	}
	if len(c.Boards) == 0 {
		c.Boards = []BoardConfig{{Serial: "K0", Channels: 30, Signaling: "isdn"}}
	}
	for i := range c.Boards {
		if c.Boards[i].Serial == "" {
			c.Boards[i].Serial = fmt.Sprintf("K%d", i)
		}
	}
	if c.PBX.Media == "" {
		c.PBX.Media = "echo"
	}
	if c.Recording.Directory == "" {
		c.Recording.Directory = "recordings"
	}
	if len(c.Calling.STUNServers) == 0 {
		c.Calling.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "trunkie-secret-key-change-me"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}
