package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devmatch/devmatch/match"
)


const DefaultApiUrl = "http://localhost:7777"

const (
	EnvApiUrl = "DEVMATCH_API_URL"
	EnvChatUrl = "DEVMATCH_CHAT_URL"
	EnvSessionFile = "DEVMATCH_SESSION_FILE"
)


// the yaml form of the settings file. Zero values keep the default
type MatchCtlSettings struct {
	ApiUrl string `yaml:"api_url"`
	ChatUrl string `yaml:"chat_url"`
	SessionFile string `yaml:"session_file"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	LoadRetries uint `yaml:"load_retries"`
	LocalEcho bool `yaml:"local_echo"`
}

func DefaultMatchCtlSettings() *MatchCtlSettings {
	return &MatchCtlSettings{
		ApiUrl: DefaultApiUrl,
		SessionFile: defaultSessionFile(),
		RequestTimeout: 30 * time.Second,
		LoadRetries: 4,
	}
}

func defaultSessionFile() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".devmatch_session.json"
	}
	return filepath.Join(configDir, "devmatch", "session.json")
}


// defaults < yaml file < .env and environment < flags
func LoadMatchCtlSettings(opts docopt.Opts) (*MatchCtlSettings, error) {
	settings := DefaultMatchCtlSettings()

	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		if err := settings.mergeFile(configPath); err != nil {
			return nil, err
		}
	}

	// a missing .env is fine. Existing environment variables win over the file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		glog.Infof("[matchctl].env error = %s\n", err)
	}
	settings.mergeEnv()

	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		settings.ApiUrl = apiUrl
	}
	if chatUrl, err := opts.String("--chat_url"); err == nil && chatUrl != "" {
		settings.ChatUrl = chatUrl
	}
	if sessionFile, err := opts.String("--session_file"); err == nil && sessionFile != "" {
		settings.SessionFile = sessionFile
	}

	return settings, nil
}

func (self *MatchCtlSettings) mergeFile(configPath string) error {
	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("Could not read config %s (%w).", configPath, err)
	}
	var fileSettings MatchCtlSettings
	if err := yaml.Unmarshal(configBytes, &fileSettings); err != nil {
		return fmt.Errorf("Invalid config %s (%w).", configPath, err)
	}
	if fileSettings.ApiUrl != "" {
		self.ApiUrl = fileSettings.ApiUrl
	}
	if fileSettings.ChatUrl != "" {
		self.ChatUrl = fileSettings.ChatUrl
	}
	if fileSettings.SessionFile != "" {
		self.SessionFile = fileSettings.SessionFile
	}
	if 0 < fileSettings.RequestTimeout {
		self.RequestTimeout = fileSettings.RequestTimeout
	}
	if 0 < fileSettings.RequestsPerSecond {
		self.RequestsPerSecond = fileSettings.RequestsPerSecond
	}
	if 0 < fileSettings.LoadRetries {
		self.LoadRetries = fileSettings.LoadRetries
	}
	if fileSettings.LocalEcho {
		self.LocalEcho = true
	}
	return nil
}

func (self *MatchCtlSettings) mergeEnv() {
	if apiUrl := os.Getenv(EnvApiUrl); apiUrl != "" {
		self.ApiUrl = apiUrl
	}
	if chatUrl := os.Getenv(EnvChatUrl); chatUrl != "" {
		self.ChatUrl = chatUrl
	}
	if sessionFile := os.Getenv(EnvSessionFile); sessionFile != "" {
		self.SessionFile = sessionFile
	}
}

func (self *MatchCtlSettings) ClientSettings() *match.ClientSettings {
	clientSettings := match.DefaultClientSettings()
	clientSettings.ChatUrl = self.ChatUrl
	clientSettings.ApiSettings.RequestsPerSecond = self.RequestsPerSecond
	clientSettings.DispatchSettings.RequestTimeout = self.RequestTimeout
	clientSettings.CollectionSettings.RetryMaxTries = max(1, self.LoadRetries)
	clientSettings.ChatSettings.LocalEcho = self.LocalEcho
	return clientSettings
}
