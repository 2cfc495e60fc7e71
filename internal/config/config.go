// Package config loads the typed configuration for a single agent process:
// CLI flags override environment variables, which override an optional
// YAML file, which overrides built-in defaults. Mirrors spec §6's CLI
// surface and environment variables.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Role is one of the agent role tags from spec §3/§4.8.
type Role string

const (
	RoleSeller         Role = "seller"
	RoleBuyer          Role = "buyer"
	RoleBuyerSeller    Role = "buyer-seller"
	RoleValidator      Role = "validator"
	RoleCoordinator    Role = "coordinator"
	RoleCommunityBuyer Role = "community-buyer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSeller, RoleBuyer, RoleBuyerSeller, RoleValidator, RoleCoordinator, RoleCommunityBuyer:
		return true
	}
	return false
}

// ChainConfig configures the chain RPC, identity/reputation registries, and token.
type ChainConfig struct {
	RPCURL            string `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	ChainID           int64  `yaml:"chain_id" env:"CHAIN_ID"`
	TokenAddress      string `yaml:"token_address" env:"TOKEN_ADDRESS"`
	TokenName         string `yaml:"token_name" env:"TOKEN_NAME"`
	TokenDecimals     int    `yaml:"token_decimals" env:"TOKEN_DECIMALS"`
	TokenVersion      string `yaml:"token_version" env:"TOKEN_VERSION"`
	IdentityRegistry  string `yaml:"identity_registry" env:"IDENTITY_REGISTRY_ADDRESS"`
	ReputationRegistry string `yaml:"reputation_registry" env:"REPUTATION_REGISTRY_ADDRESS"`
}

// MarketplaceConfig configures the HTTP client to the external task marketplace.
type MarketplaceConfig struct {
	BaseURL        string        `yaml:"base_url" env:"MARKETPLACE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CallSpacing    time.Duration `yaml:"call_spacing"`
	MinBounty      int64         `yaml:"min_bounty"`
}

// FacilitatorConfig configures the URL of the external settlement facilitator.
type FacilitatorConfig struct {
	URL string `yaml:"url" env:"FACILITATOR_URL"`
}

// ChatConfig configures the line-oriented chat transport (C6).
type ChatConfig struct {
	ServerAddr string `yaml:"server_addr" env:"CHAT_SERVER"`
	Channel    string `yaml:"channel" env:"CHAT_CHANNEL"`
	InsecureTLS bool  `yaml:"insecure_tls" env:"CHAT_INSECURE_TLS"`
}

// IdentityConfig configures C1's key resolution lookup order.
type IdentityConfig struct {
	PrivateKeyHex   string `env:"PRIVATE_KEY"`
	WalletAddress   string `env:"WALLET_ADDRESS"`
	SwarmSeedPath   string `yaml:"swarm_seed_path" env:"SWARM_SEED_PATH"`
	DerivationIndex uint32 `yaml:"derivation_index"`
}

// LoggingConfig controls the agent's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// DebugConfig controls the optional localhost /healthz + /metrics listener.
type DebugConfig struct {
	Addr string `yaml:"debug_addr"`
}

// ProductConfig describes one data artifact in an agent's catalog of
// offered/desired products, per spec §3's Product entity.
type ProductConfig struct {
	Name             string   `yaml:"name"`
	PriceUSDC        float64  `yaml:"price_usdc"`
	Description      string   `yaml:"description"`
	Category         string   `yaml:"category"`
	EvidenceRequired []string `yaml:"evidence_required"`
}

// CatalogConfig is the YAML shape of an agent's role-specific product
// lists: a seller offers, a buyer lists its supply-chain products under
// wanted, a buyer-seller names an upstream/downstream pair, a
// community-buyer names a flat wanted list.
type CatalogConfig struct {
	Offered    []ProductConfig `yaml:"offered"`
	Wanted     []ProductConfig `yaml:"wanted"`
	Upstream   ProductConfig   `yaml:"upstream"`
	Downstream ProductConfig   `yaml:"downstream"`
}

// Config is the top-level agent configuration.
type Config struct {
	Name            string `yaml:"name"`
	DataDir         string `yaml:"data_dir"`
	Role            Role   `yaml:"role"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	DailyBudget     int64  `yaml:"daily_budget"`
	PauseThreshold  int64  `yaml:"pause_threshold"`

	Chain        ChainConfig       `yaml:"chain"`
	Marketplace  MarketplaceConfig `yaml:"marketplace"`
	Facilitator  FacilitatorConfig `yaml:"facilitator"`
	Chat         ChatConfig        `yaml:"chat"`
	Identity     IdentityConfig    `yaml:"identity"`
	Logging      LoggingConfig     `yaml:"logging"`
	Debug        DebugConfig       `yaml:"debug"`
	Catalog      CatalogConfig     `yaml:"catalog"`

	SupplyChain          []string `yaml:"supply_chain"`
	ReputationRefreshCron string  `yaml:"reputation_refresh_cron"`
	CoordinatorIdleAfter time.Duration `yaml:"coordinator_idle_after"`
}

// Defaults returns a Config populated with the spec's default values.
func Defaults() *Config {
	return &Config{
		TickInterval:   300 * time.Second,
		PauseThreshold: 0,
		Chain: ChainConfig{
			TokenDecimals: 6,
			TokenVersion:  "1",
		},
		Marketplace: MarketplaceConfig{
			RequestTimeout: 30 * time.Second,
			CallSpacing:    500 * time.Millisecond,
			MinBounty:      10_000, // one cent in smallest units, per spec §4.3
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ReputationRefreshCron: "0 */6 * * *",
		CoordinatorIdleAfter:  30 * time.Minute,
	}
}

// Flags describes the CLI surface of spec §6.
type Flags struct {
	Name       string
	DataDir    string
	Tick       time.Duration
	Role       string
	Budget     float64
	ConfigFile string
	DebugAddr  string
}

// ParseFlags parses os.Args[1:] into Flags using the spec §6 CLI surface.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	f := &Flags{}
	fs.StringVar(&f.Name, "name", "", "agent identifier (required)")
	fs.StringVar(&f.DataDir, "data-dir", "", "local store root")
	fs.DurationVar(&f.Tick, "tick", 300*time.Second, "scheduler period")
	fs.StringVar(&f.Role, "role", "", "agent role")
	fs.Float64Var(&f.Budget, "budget", 0, "daily cap, stablecoin units")
	fs.StringVar(&f.ConfigFile, "config", "", "path to a YAML config file")
	fs.StringVar(&f.DebugAddr, "debug-addr", "", "optional localhost /healthz+/metrics listener address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Load builds a Config from defaults, an optional YAML file, environment
// variables, and CLI flags, in that override order (flags win).
func Load(f *Flags) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if f.ConfigFile != "" {
		if err := loadFromFile(f.ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyFlags(cfg, f)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyFlags(cfg *Config, f *Flags) {
	if f.Name != "" {
		cfg.Name = f.Name
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Tick > 0 {
		cfg.TickInterval = f.Tick
	}
	if f.Role != "" {
		cfg.Role = Role(f.Role)
	}
	if f.Budget > 0 {
		cfg.DailyBudget = ToSmallestUnit(f.Budget, cfg.Chain.TokenDecimals)
	}
	if f.DebugAddr != "" {
		cfg.Debug.Addr = f.DebugAddr
	}
}

// ToSmallestUnit converts a decimal stablecoin amount to the token's
// smallest-unit integer representation, per spec §4.2 step 2.
func ToSmallestUnit(amount float64, decimals int) int64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return int64(amount*scale + 0.5)
}

// Validate enforces the config-kind fatal-at-startup checks of spec §7.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data-dir is required")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("role %q is not one of the supported roles", c.Role)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}

// TickDeadline is the cooperative-cancellation deadline for a single tick,
// per spec §4.8: 0.8 × T.
func (c *Config) TickDeadline() time.Duration {
	return time.Duration(float64(c.TickInterval) * 0.8)
}
