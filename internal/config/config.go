package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"moff.io/moff-wallet/pkg/wallet"
	"moff.io/moff-wallet/pkg/wallet/providers"
)

const defaultCredentialEnv = "INFURA_API_KEY"

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	LogLevel         int          `yaml:"log_level"`
	SentryDSN        string       `yaml:"sentry_dsn"`
	LarkAlarmWebhook string       `yaml:"lark_alarm_webhook"`
	HTTP             HTTP         `yaml:"http"`
	Store            Store        `yaml:"store"`
	RedisCredential  DBCredential `yaml:"redis"`
	Wallet           Wallet       `yaml:"wallet"`

	// Credential is read from the environment, never from the file.
	Credential string `yaml:"-"`
}

type HTTP struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SignPerMinute caps sign requests per client ip, 0 disables the limit.
	SignPerMinute int `yaml:"sign_per_minute"`
}

type Store struct {
	// Driver is one of memory, file, redis.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

type Wallet struct {
	Network       string               `yaml:"network"`
	Theme         *wallet.Theme        `yaml:"theme"`
	Providers     providers.Enablement `yaml:"providers"`
	Modal         wallet.ModalOptions  `yaml:"modal"`
	CredentialEnv string               `yaml:"credential_env"`
	// Endpoints maps a recipe package, or "injected", to the websocket
	// JSON-RPC endpoint serving it.
	Endpoints map[string]string `yaml:"endpoints"`
}

// SessionOptions returns the session options described by the file.
func (in *Configuration) SessionOptions() wallet.Options {
	return wallet.Options{
		Network:    in.Wallet.Network,
		Theme:      in.Wallet.Theme,
		Providers:  in.Wallet.Providers,
		Modal:      in.Wallet.Modal,
		Credential: in.Credential,
	}
}

func (in *Configuration) applyDefaults() {
	if in.HTTP.Address == "" {
		in.HTTP.Address = ":8080"
	}
	if in.HTTP.RequestTimeout <= 0 {
		in.HTTP.RequestTimeout = time.Minute
	}
	if in.Store.Driver == "" {
		in.Store.Driver = "memory"
	}
	if in.Wallet.CredentialEnv == "" {
		in.Wallet.CredentialEnv = defaultCredentialEnv
	}
}

// Parse decodes a configuration document and applies defaults.
func Parse(data []byte) (*Configuration, error) {
	t := Configuration{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	t.applyDefaults()
	return &t, nil
}

func readConfig(path string) (*Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", path)
		}
		return nil, err
	}
	t, err := Parse(dat)
	if err != nil {
		return nil, fmt.Errorf("fail to decode config error: %v", err)
	}
	t.Credential = os.Getenv(t.Wallet.CredentialEnv)
	if t.Credential == "" {
		logrus.Warnf("env %s not set, default walletconnect and walletlink options disabled", t.Wallet.CredentialEnv)
	}
	return t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
