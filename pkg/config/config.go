// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fawa-io/coverup/pkg/fwlog"
)

type Config struct {
	Addr          string `mapstructure:"addr"`
	CertFile      string `mapstructure:"certFile"`
	KeyFile       string `mapstructure:"keyFile"`
	LogLevel      string `mapstructure:"logLevel"`
	PublicBaseURL string `mapstructure:"publicBaseURL"`

	Share     ShareConfig     `mapstructure:"share"`
	Minio     MinioConfig     `mapstructure:"minio"`
	Dragonfly DragonflyConfig `mapstructure:"dragonfly"`
	Local     LocalConfig     `mapstructure:"local"`
	Upscale   UpscaleConfig   `mapstructure:"upscale"`
	QR        QRConfig        `mapstructure:"qr"`
}

type ShareConfig struct {
	// Backend selects the share store: memory, object or local.
	Backend         string `mapstructure:"backend"`
	MaxPayloadBytes int64  `mapstructure:"maxPayloadBytes"`
}

type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyID"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	Bucket          string `mapstructure:"bucket"`
	UseSSL          bool   `mapstructure:"useSSL"`
	// PublicURL, when set, is the prefix under which the bucket is
	// publicly readable. Presigned URLs are used otherwise.
	PublicURL string `mapstructure:"publicURL"`
}

type DragonflyConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LocalConfig struct {
	Path             string `mapstructure:"path"`
	CompressionLevel int    `mapstructure:"compressionLevel"`
}

type UpscaleConfig struct {
	Workers        int           `mapstructure:"workers"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BaseDimension  int           `mapstructure:"baseDimension"`
	MaxSourceBytes int64         `mapstructure:"maxSourceBytes"`
}

type QRConfig struct {
	Size  int    `mapstructure:"size"`
	Level string `mapstructure:"level"`
}

var (
	once sync.Once

	mu sync.RWMutex

	config Config
)

func InitConfig() error {
	var initErr error
	once.Do(func() {
		initErr = LoadAndWatch()
	})
	return initErr
}

func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return config
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("certFile", "")
	v.SetDefault("keyFile", "")
	v.SetDefault("logLevel", "info")
	v.SetDefault("publicBaseURL", "http://127.0.0.1:8080")

	v.SetDefault("share.backend", "memory")
	v.SetDefault("share.maxPayloadBytes", 50<<20)

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.accessKeyID", "")
	v.SetDefault("minio.secretAccessKey", "")
	v.SetDefault("minio.bucket", "coverup")
	v.SetDefault("minio.useSSL", false)
	v.SetDefault("minio.publicURL", "")

	v.SetDefault("dragonfly.addr", "localhost:6379")
	v.SetDefault("dragonfly.password", "")
	v.SetDefault("dragonfly.db", 0)

	v.SetDefault("local.path", "./data/shares.db")
	v.SetDefault("local.compressionLevel", 2)

	v.SetDefault("upscale.workers", 1)
	v.SetDefault("upscale.timeout", 2*time.Minute)
	v.SetDefault("upscale.baseDimension", 640)
	v.SetDefault("upscale.maxSourceBytes", 20<<20)

	v.SetDefault("qr.size", 400)
	v.SetDefault("qr.level", "medium")
}

// Load decodes the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadAndWatch() error {
	pflag.String("addr", "", "HTTP service address (e.g., '127.0.0.1:8080')")
	pflag.String("certFile", "", "Path to the TLS certificate file.")
	pflag.String("keyFile", "", "Path to the TLS private key file.")
	pflag.String("logLevel", "", "Log level: debug, info, warn, error.")
	pflag.String("share.backend", "", "Share store backend: memory, object or local.")
	pflag.Parse()

	v := viper.GetViper()
	SetDefaults(v)

	// Only flags the user actually passed should override the file.
	var bindErr error
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind pflags: %w", bindErr)
	}

	v.SetEnvPrefix("COVERUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coverup/")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fwlog.Infof("Config file not found, using defaults.")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}

	cfg, err := Load(v)
	if err != nil {
		return fmt.Errorf("the initial configuration cannot be decoded into the struct: %w", err)
	}
	mu.Lock()
	config = cfg
	mu.Unlock()

	v.OnConfigChange(func(e fsnotify.Event) {
		fwlog.Infof("Config file %s changed, reloading...", e.Name)

		cfg, err := Load(v)
		if err != nil {
			fwlog.Errorf("Error while reloading config: %v", err)
			return
		}

		mu.Lock()
		config = cfg
		mu.Unlock()

		newLogLevel, err := fwlog.ParseLevel(cfg.LogLevel)
		if err != nil {
			fwlog.Warnf("New log level in config is invalid: %v. Keeping previous level.", err)
			return
		}
		fwlog.SetLevel(newLogLevel)
		fwlog.Infof("Log level reloaded successfully to: %s", cfg.LogLevel)
	})
	v.WatchConfig()

	return nil
}
