// Package config loads runtime settings from the environment (prefix
// CONTENTMACHINE_) with an optional config file override.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr       string
	DBPath     string
	Workers    int
	QueueDepth int
	PollEvery  string // cron cadence for the sweep, e.g. "@every 1m"
	Debug      bool

	Late struct {
		BaseURL string
		APIKey  string
		Timeout time.Duration
	}
	Dropbox struct {
		APIURL     string
		ContentURL string
		Token      string
		Timeout    time.Duration
	}
	OpenAI struct {
		APIKey  string
		Model   string
		Timeout time.Duration
	}
}

func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTENTMACHINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db", "contentmachine.db")
	v.SetDefault("workers", 3)
	v.SetDefault("queue_depth", 256)
	v.SetDefault("poll_every", "@every 1m")
	v.SetDefault("debug", false)

	v.SetDefault("late.base_url", "https://getlate.dev/api")
	v.SetDefault("late.timeout", "30s")
	v.SetDefault("dropbox.api_url", "")
	v.SetDefault("dropbox.content_url", "")
	v.SetDefault("dropbox.timeout", "30s")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", "2m")

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var c Config
	c.Addr = v.GetString("addr")
	c.DBPath = v.GetString("db")
	c.Workers = v.GetInt("workers")
	c.QueueDepth = v.GetInt("queue_depth")
	c.PollEvery = v.GetString("poll_every")
	c.Debug = v.GetBool("debug")

	c.Late.BaseURL = v.GetString("late.base_url")
	c.Late.APIKey = v.GetString("late.api_key")
	c.Late.Timeout = v.GetDuration("late.timeout")

	c.Dropbox.APIURL = v.GetString("dropbox.api_url")
	c.Dropbox.ContentURL = v.GetString("dropbox.content_url")
	c.Dropbox.Token = v.GetString("dropbox.token")
	c.Dropbox.Timeout = v.GetDuration("dropbox.timeout")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.Model = v.GetString("openai.model")
	c.OpenAI.Timeout = v.GetDuration("openai.timeout")

	return c, nil
}
