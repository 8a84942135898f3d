// Package config loads the configuration of the Avocado core from a YAML file and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	evmprov "github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/fee"
	"github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/multisig"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/signers"
)

// DefaultFactoryAddress is the address the Avocado factory is deployed at on every chain.
const DefaultFactoryAddress = "0xe981E50c7c47F0Df8826B5ce3F533f5E4440e687"

// BackendConfig configures the Avocado backend endpoints.
type BackendConfig struct {
	RPCURL       string `mapstructure:"rpc_url" yaml:"rpc_url"`             // The JSON-RPC endpoint of the backend.
	ProposalsURL string `mapstructure:"proposals_url" yaml:"proposals_url"` // The base URL of the multisig proposals API.
}

// AvocadoConfig configures the safe contracts.
type AvocadoConfig struct {
	ChainID             uint64   `mapstructure:"chain_id" yaml:"chain_id"`                           // The chain every cast is signed for.
	FactoryAddress      string   `mapstructure:"factory_address" yaml:"factory_address"`             // The factory computing safe addresses.
	LegacyLatestVersion string   `mapstructure:"legacy_latest_version" yaml:"legacy_latest_version"` // Domain version of undeployed legacy safes.
	LegacyNonceSlot     string   `mapstructure:"legacy_nonce_slot" yaml:"legacy_nonce_slot"`         // Storage slot of the legacy nonce.
	NetworksPaths       []string `mapstructure:"networks_paths" yaml:"networks_paths"`               // The network manifest files.
}

// Factory returns the parsed factory address.
func (c AvocadoConfig) Factory() (common.Address, error) {
	if !common.IsHexAddress(c.FactoryAddress) {
		return common.Address{}, fmt.Errorf("invalid factory address %q", c.FactoryAddress)
	}

	return common.HexToAddress(c.FactoryAddress), nil
}

// NonceSlot returns the parsed legacy nonce slot. An empty slot is slot zero.
func (c AvocadoConfig) NonceSlot() common.Hash {
	return common.HexToHash(c.LegacyNonceSlot)
}

// MFAConfig configures step-up authentication.
type MFAConfig struct {
	MaxFallbackDepth int           `mapstructure:"max_fallback_depth" yaml:"max_fallback_depth"`
	PromptTimeout    time.Duration `mapstructure:"prompt_timeout" yaml:"prompt_timeout"`
	StepUpThreshold  string        `mapstructure:"step_up_threshold" yaml:"step_up_threshold"` // USD value from which step-up is required.
	TokenTTL         time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	SignatureTTL     time.Duration `mapstructure:"signature_ttl" yaml:"signature_ttl"`
}

// Threshold returns the parsed step-up threshold. An empty threshold is zero.
func (c MFAConfig) Threshold() (decimal.Decimal, error) {
	if c.StepUpThreshold == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(c.StepUpThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid step up threshold %q: %w", c.StepUpThreshold, err)
	}

	return d, nil
}

// PromotionConfig is a fee discount granted on a chain until a deadline.
type PromotionConfig struct {
	ChainID    uint64 `mapstructure:"chain_id" yaml:"chain_id"`
	Rate       string `mapstructure:"rate" yaml:"rate"` // Discount rate between 0 and 1.
	Name       string `mapstructure:"name" yaml:"name"`
	Program    string `mapstructure:"program" yaml:"program"`
	ValidUntil string `mapstructure:"valid_until" yaml:"valid_until"` // RFC 3339 timestamp.
}

// FeeConfig configures fee estimation.
type FeeConfig struct {
	Concurrency int               `mapstructure:"concurrency" yaml:"concurrency"`
	Promotions  []PromotionConfig `mapstructure:"promotions" yaml:"promotions"`
}

// FeePromotions parses the configured promotions.
func (c FeeConfig) FeePromotions() ([]fee.Promotion, error) {
	out := make([]fee.Promotion, 0, len(c.Promotions))
	for i, p := range c.Promotions {
		rate, err := decimal.NewFromString(p.Rate)
		if err != nil {
			return nil, fmt.Errorf("promotion %d: invalid rate %q: %w", i, p.Rate, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("promotion %d: rate %s is not between 0 and 1", i, rate)
		}

		until, err := time.Parse(time.RFC3339, p.ValidUntil)
		if err != nil {
			return nil, fmt.Errorf("promotion %d: invalid valid_until %q: %w", i, p.ValidUntil, err)
		}

		out = append(out, fee.Promotion{
			ChainID:    p.ChainID,
			Rate:       rate,
			Name:       p.Name,
			Program:    p.Program,
			ValidUntil: until,
		})
	}

	return out, nil
}

// SignersConfig configures the required signer resolver.
type SignersConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// MultisigConfig configures the proposal orchestrator.
type MultisigConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ConnectorConfig configures wallet pairing.
type ConnectorConfig struct {
	// PairTimeout bounds a pairing round trip. Zero uses the connector default.
	PairTimeout time.Duration `mapstructure:"pair_timeout" yaml:"pair_timeout"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	// Path of the JSON session file. The session is kept in memory when empty.
	Path string `mapstructure:"path" yaml:"path"`
}

// KMSConfig is the configuration for the AWS KMS.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type KMSConfig struct {
	KeyID     string `mapstructure:"key_id" yaml:"key_id"`         // Secret: AWS KMS Key ID
	KeyRegion string `mapstructure:"key_region" yaml:"key_region"` // Secret: AWS KMS Key Region (e.g. us-west-1)
}

// SignerConfig selects the key owner signatures are produced with.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type SignerConfig struct {
	KMS        KMSConfig `mapstructure:"kms" yaml:"kms"`
	PrivateKey string    `mapstructure:"private_key" yaml:"private_key"` // Secret: Prefer to use KMS keys instead.
}

// Generator returns the signer generator for the configured key. KMS is preferred when both a
// KMS key and a private key are set.
func (c SignerConfig) Generator() (evmprov.SignerGenerator, error) {
	if c.KMS.KeyID != "" && c.KMS.KeyRegion != "" {
		return evmprov.SignerFromKMS(c.KMS.KeyID, c.KMS.KeyRegion, "")
	}

	if c.PrivateKey != "" {
		return evmprov.SignerFromRaw(c.PrivateKey), nil
	}

	return nil, errors.New("no signer configured: set a KMS key or a private key")
}

// Config wraps the entire configuration of the Avocado core.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Avocado   AvocadoConfig   `mapstructure:"avocado" yaml:"avocado"`
	MFA       MFAConfig       `mapstructure:"mfa" yaml:"mfa"`
	Fee       FeeConfig       `mapstructure:"fee" yaml:"fee"`
	Signers   SignersConfig   `mapstructure:"signers" yaml:"signers"`
	Multisig  MultisigConfig  `mapstructure:"multisig" yaml:"multisig"`
	Connector ConnectorConfig `mapstructure:"connector" yaml:"connector"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Signer    SignerConfig    `mapstructure:"signer" yaml:"signer"`
}

// Validate checks the values which cannot be checked by decoding alone.
func (c *Config) Validate() error {
	if c.Backend.RPCURL == "" {
		return errors.New("backend rpc url is required")
	}

	if _, err := c.Avocado.Factory(); err != nil {
		return err
	}

	if _, err := semver.NewVersion(c.Avocado.LegacyLatestVersion); err != nil {
		return fmt.Errorf("invalid legacy latest version %q: %w", c.Avocado.LegacyLatestVersion, err)
	}

	if _, err := c.MFA.Threshold(); err != nil {
		return err
	}

	if _, err := c.Fee.FeePromotions(); err != nil {
		return err
	}

	return nil
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadFile loads the config from a file.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("avocado.chain_id", payload.AvocadoChainID)
	v.SetDefault("avocado.factory_address", DefaultFactoryAddress)
	v.SetDefault("avocado.legacy_latest_version", payload.DefaultLatestVersion)
	v.SetDefault("mfa.max_fallback_depth", mfa.DefaultMaxFallbackDepth)
	v.SetDefault("mfa.token_ttl", mfa.DefaultTokenTTL)
	v.SetDefault("mfa.signature_ttl", mfa.DefaultSignatureTTL)
	v.SetDefault("signers.read_timeout", signers.DefaultReadTimeout)
	v.SetDefault("multisig.poll_interval", multisig.DefaultPollInterval)

	return v
}

var (
	// envBindings maps a config key to the environment variables that can provide its value.
	//
	// The first element in the list is the preferred environment variable name, and the second
	// (if present) is a legacy name kept for existing deployments. Viper uses the first one that
	// is set.
	envBindings = map[string][]string{
		"backend.rpc_url":               {"AVOCADO_BACKEND_RPC_URL", "AVOCADO_RPC_URL"},
		"backend.proposals_url":         {"AVOCADO_BACKEND_PROPOSALS_URL", "AVOCADO_API_URL"},
		"avocado.chain_id":              {"AVOCADO_CHAIN_ID"},
		"avocado.factory_address":       {"AVOCADO_FACTORY_ADDRESS"},
		"avocado.legacy_latest_version": {"AVOCADO_LEGACY_LATEST_VERSION"},
		"avocado.legacy_nonce_slot":     {"AVOCADO_LEGACY_NONCE_SLOT"},
		"avocado.networks_paths":        {"AVOCADO_NETWORKS_PATHS"},
		"mfa.max_fallback_depth":        {"AVOCADO_MFA_MAX_FALLBACK_DEPTH"},
		"mfa.prompt_timeout":            {"AVOCADO_MFA_PROMPT_TIMEOUT"},
		"mfa.step_up_threshold":         {"AVOCADO_MFA_STEP_UP_THRESHOLD"},
		"mfa.token_ttl":                 {"AVOCADO_MFA_TOKEN_TTL"},
		"mfa.signature_ttl":             {"AVOCADO_MFA_SIGNATURE_TTL"},
		"fee.concurrency":               {"AVOCADO_FEE_CONCURRENCY"},
		"signers.read_timeout":          {"AVOCADO_SIGNERS_READ_TIMEOUT"},
		"signers.concurrency":           {"AVOCADO_SIGNERS_CONCURRENCY"},
		"multisig.poll_interval":        {"AVOCADO_MULTISIG_POLL_INTERVAL"},
		"connector.pair_timeout":        {"AVOCADO_CONNECTOR_PAIR_TIMEOUT"},
		"session.path":                  {"AVOCADO_SESSION_PATH"},
		"signer.kms.key_id":             {"AVOCADO_SIGNER_KMS_KEY_ID", "KMS_KEY_ID"},
		"signer.kms.key_region":         {"AVOCADO_SIGNER_KMS_KEY_REGION", "KMS_KEY_REGION"},
		"signer.private_key":            {"AVOCADO_SIGNER_PRIVATE_KEY", "PRIVATE_KEY"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the env key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
