package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds daemon-level configuration, sourced from the environment
// (MIXDECK_ prefix) with an optional mixdeck.yaml alongside the binary.
type Settings struct {
	Serial struct {
		Port string `mapstructure:"port"`
		Baud int    `mapstructure:"baud"`
	} `mapstructure:"serial"`
	Bindings struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"bindings"`
	Broker struct {
		URL      string `mapstructure:"url"`
		ClientID string `mapstructure:"client_id"`
		Topic    string `mapstructure:"topic"`
	} `mapstructure:"broker"`
	API struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"api"`
	Audio struct {
		DevicePollSeconds int `mapstructure:"device_poll_seconds"`
	} `mapstructure:"audio"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// DevicePollInterval returns the default-endpoint poll interval.
func (s *Settings) DevicePollInterval() time.Duration {
	if s.Audio.DevicePollSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.Audio.DevicePollSeconds) * time.Second
}

// LoadSettings reads settings with sane defaults. A missing config file is
// fine; the environment still applies.
func LoadSettings() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("MIXDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("bindings.path", "bindings.yaml")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.client_id", "mixdeck-bridge")
	v.SetDefault("broker.topic", "mixdeck")
	v.SetDefault("api.listen", ":8537")
	v.SetDefault("audio.device_poll_seconds", 3)
	v.SetDefault("log.level", "info")

	v.SetConfigName("mixdeck")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
