package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gatekeeper process's full configuration, loaded from an
// optional config file, environment variables, and flag-equivalent
// defaults — the same viper layering the teacher uses, retargeted at the
// gatekeeper's CLI flags (§6): --keypair, --fullnode, --port, --interval.
type Config struct {
	Gatekeeper GatekeeperConfig
	Fullnode   FullnodeConfig
	Server     ServerConfig
}

type GatekeeperConfig struct {
	KeypairPath string `mapstructure:"keypair_path"`
}

// FullnodeConfig addresses the three ports the gatekeeper talks to on one
// fullnode host: JSON-RPC, the pubsub websocket, and (bootstrap only) the
// airdrop drone.
type FullnodeConfig struct {
	Host     string `mapstructure:"host"`
	RPCPort  int    `mapstructure:"rpc_port"`
	WSPort   int    `mapstructure:"ws_port"`
	DronePort int   `mapstructure:"drone_port"`
}

type ServerConfig struct {
	Port          int   `mapstructure:"port"`
	AdminPort     int   `mapstructure:"admin_port"`
	FeeIntervalMS int64 `mapstructure:"fee_interval_ms"`
}

func (f FullnodeConfig) RPCAddr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.RPCPort)
}

func (f FullnodeConfig) WSAddr() string {
	return fmt.Sprintf("ws://%s:%d", f.Host, f.WSPort)
}

func (f FullnodeConfig) DroneAddr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.DronePort)
}

// Load reads gatekeeper configuration the way the teacher's config.Load
// does: an optional config.yaml, then environment overrides, then
// defaults matching the CLI reference flags in §6 (port 8122, a 1-second
// fee interval).
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8122)
	v.SetDefault("server.admin_port", 8123)
	v.SetDefault("server.fee_interval_ms", 1000)
	v.SetDefault("fullnode.host", "127.0.0.1")
	v.SetDefault("fullnode.rpc_port", 8899)
	v.SetDefault("fullnode.ws_port", 8900)
	v.SetDefault("fullnode.drone_port", 9900)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"gatekeeper.keypair_path":  "GATEKEEPER_KEYPAIR",
		"fullnode.host":            "FULLNODE_HOST",
		"fullnode.rpc_port":        "FULLNODE_RPC_PORT",
		"fullnode.ws_port":         "FULLNODE_WS_PORT",
		"fullnode.drone_port":      "FULLNODE_DRONE_PORT",
		"server.port":              "PORT",
		"server.admin_port":        "ADMIN_PORT",
		"server.fee_interval_ms":   "FEE_INTERVAL_MS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Gatekeeper.KeypairPath == "" {
		return fmt.Errorf("required config missing: GATEKEEPER_KEYPAIR (--keypair)")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("required config missing: PORT")
	}
	return nil
}
