// Package config provides a reusable loader for the transaction sender's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/paladin-bladesmith/p3-txn-sender/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for the transaction sender. Field
// names mirror the configuration surface enumerated in spec.md §6.
type Config struct {
	RPC struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"rpc" json:"rpc"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		LogFile    string `mapstructure:"log_file" json:"log_file"`
	} `mapstructure:"metrics" json:"metrics"`

	Engine struct {
		RetryInterval         time.Duration `mapstructure:"retry_interval" json:"retry_interval"`
		MaxQueueSize          int           `mapstructure:"max_queue_size" json:"max_queue_size"`
		ServiceCap            int           `mapstructure:"service_cap" json:"service_cap"`
		PerSendDeadline       time.Duration `mapstructure:"per_send_deadline" json:"per_send_deadline"`
		PerRecordRetriesInner int           `mapstructure:"per_record_retries_inner" json:"per_record_retries_inner"`
		WorkerThreads         int           `mapstructure:"worker_threads" json:"worker_threads"`
		RoutePortP3           int           `mapstructure:"route_port_p3" json:"route_port_p3"`
		RoutePortMEV          int           `mapstructure:"route_port_mev" json:"route_port_mev"`

		// RemoveOnConfirmation resolves spec.md §9 Open Question 1.
		RemoveOnConfirmation bool `mapstructure:"remove_on_confirmation" json:"remove_on_confirmation"`
		// AdvanceOnEmptyLeaders resolves spec.md §9 Open Question 3.
		AdvanceOnEmptyLeaders bool `mapstructure:"advance_on_empty_leaders" json:"advance_on_empty_leaders"`
	} `mapstructure:"engine" json:"engine"`

	Leaders struct {
		Mode          string        `mapstructure:"mode" json:"mode"` // "static" | "dynamic"
		StaticIP      string        `mapstructure:"static_ip" json:"static_ip"`
		ScheduleURL   string        `mapstructure:"schedule_url" json:"schedule_url"`
		RefreshPeriod time.Duration `mapstructure:"refresh_period" json:"refresh_period"`
		PreferredURL  string        `mapstructure:"preferred_url" json:"preferred_url"`
	} `mapstructure:"leaders" json:"leaders"`

	Confirmation struct {
		ChainRPCURL   string        `mapstructure:"chain_rpc_url" json:"chain_rpc_url"`
		PollAttempts  int           `mapstructure:"poll_attempts" json:"poll_attempts"`
		PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
		RPCRatePerSec float64       `mapstructure:"rpc_rate_per_sec" json:"rpc_rate_per_sec"`
	} `mapstructure:"confirmation" json:"confirmation"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

func setDefaults() {
	viper.SetDefault("rpc.listen_addr", ":8899")
	viper.SetDefault("metrics.listen_addr", ":9099")
	viper.SetDefault("metrics.log_file", "txsender.log.json")

	viper.SetDefault("engine.retry_interval", "2s")
	viper.SetDefault("engine.max_queue_size", 0)
	viper.SetDefault("engine.service_cap", 5)
	viper.SetDefault("engine.per_send_deadline", "500ms")
	viper.SetDefault("engine.per_record_retries_inner", 10)
	viper.SetDefault("engine.worker_threads", 8)
	viper.SetDefault("engine.route_port_p3", 4819)
	viper.SetDefault("engine.route_port_mev", 4820)
	viper.SetDefault("engine.remove_on_confirmation", false)
	viper.SetDefault("engine.advance_on_empty_leaders", true)

	viper.SetDefault("leaders.mode", "static")
	viper.SetDefault("leaders.static_ip", "127.0.0.1")
	viper.SetDefault("leaders.refresh_period", "5s")

	viper.SetDefault("confirmation.poll_attempts", 30)
	viper.SetDefault("confirmation.poll_interval", "400ms")
	viper.SetDefault("confirmation.rpc_rate_per_sec", 50.0)

	viper.SetDefault("logging.level", "info")
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads the default configuration file and merges any environment
// specific overrides. The resulting configuration is stored in AppConfig
// and returned.
//
// If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("TXSENDER")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the TXSENDER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("TXSENDER_ENV", ""))
}
