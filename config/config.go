/*
Package config implements the type to pass the arguments to the node
and implements a function to load the parameters from a configuration file.
*/
package config

import (
	"encoding/hex"
	"strings"

	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.dedis.ch/kyber/v3"
)

// Config defines a type to describe the configuration.
type Config struct {
	Name            string
	LogLevel        int
	GCDepth         uint64
	ChannelCapacity int
	StorePath       string
	ListenAddr      string // where the primary delivers certificates
	MetricsAddr     string // empty disables the metrics endpoint
	MaxPool         int
	Committee       *types.Committee
	// PrivateKey is only checked against the node's committee entry on load.
	PrivateKey      kyber.Scalar
}

// AuthorityConfig is one committee entry of the configuration file.
type AuthorityConfig struct {
	Stake   uint64 `mapstructure:"stake"`
	PubKey  string `mapstructure:"pubkey"`
	Address string `mapstructure:"address"`
}

// New creates a new variable of type Config for test
func New(name string, committee *types.Committee, privateKey kyber.Scalar, storePath, listenAddr string) *Config {
	return &Config{
		Name:            name,
		LogLevel:        int(hclog.Info),
		GCDepth:         defaultGCDepth,
		ChannelCapacity: defaultChannelCapacity,
		StorePath:       storePath,
		ListenAddr:      listenAddr,
		MaxPool:         defaultMaxPool,
		Committee:       committee,
		PrivateKey:      privateKey,
	}
}

const (
	defaultGCDepth         = 50
	defaultChannelCapacity = 1000
	defaultMaxPool         = 10
)

// LoadConfig loads configuration files by package viper.
// The working directory is searched when no path is given.
func LoadConfig(configPrefix, configName string, paths ...string) (*Config, error) {
	viperConfig := viper.New()

	// for environment variables
	viperConfig.SetEnvPrefix(configPrefix)
	viperConfig.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperConfig.SetEnvKeyReplacer(replacer)
	viperConfig.SetConfigName(configName)
	if len(paths) == 0 {
		paths = []string{"./"}
	}
	for _, p := range paths {
		viperConfig.AddConfigPath(p)
	}
	viperConfig.SetDefault("log_level", int(hclog.Info))
	viperConfig.SetDefault("gc_depth", defaultGCDepth)
	viperConfig.SetDefault("channel_capacity", defaultChannelCapacity)
	viperConfig.SetDefault("max_pool", defaultMaxPool)
	viperConfig.SetDefault("store_path", "db")
	if err := viperConfig.ReadInConfig(); err != nil {
		return nil, err
	}

	conf := &Config{
		Name:            viperConfig.GetString("name"),
		LogLevel:        viperConfig.GetInt("log_level"),
		GCDepth:         viperConfig.GetUint64("gc_depth"),
		ChannelCapacity: viperConfig.GetInt("channel_capacity"),
		StorePath:       viperConfig.GetString("store_path"),
		ListenAddr:      viperConfig.GetString("listen_addr"),
		MetricsAddr:     viperConfig.GetString("metrics_addr"),
		MaxPool:         viperConfig.GetInt("max_pool"),
	}

	var authorities map[string]AuthorityConfig
	if err := viperConfig.UnmarshalKey("committee", &authorities); err != nil {
		return nil, errors.Wrap(err, "decode committee")
	}
	committee, err := BuildCommittee(viperConfig.GetUint64("epoch"), authorities)
	if err != nil {
		return nil, err
	}
	conf.Committee = committee
	if _, ok := committee.Authorities[conf.Name]; !ok {
		return nil, errors.Errorf("node %s is not in the committee", conf.Name)
	}

	privKeyAsBytes, err := hex.DecodeString(viperConfig.GetString("privkey"))
	if err != nil {
		return nil, errors.Wrap(err, "decode private key")
	}
	privKey := types.Suite.Scalar()
	if err := privKey.UnmarshalBinary(privKeyAsBytes); err != nil {
		return nil, errors.Wrap(err, "decode private key")
	}
	if !types.Suite.Point().Mul(privKey, nil).Equal(committee.Authorities[conf.Name].PublicKey) {
		return nil, errors.Errorf("private key does not match the public key of %s", conf.Name)
	}
	conf.PrivateKey = privKey
	return conf, nil
}

// BuildCommittee decodes the committee entries of a configuration file.
func BuildCommittee(epoch types.Epoch, authorities map[string]AuthorityConfig) (*types.Committee, error) {
	if len(authorities) == 0 {
		return nil, errors.New("the committee in the config file is empty")
	}
	members := make(map[string]types.Authority, len(authorities))
	for name, a := range authorities {
		pubKey, err := types.DecodePublicKey(a.PubKey)
		if err != nil {
			return nil, errors.Wrapf(err, "public key of %s cannot be decoded", name)
		}
		if a.Stake == 0 {
			return nil, errors.Errorf("authority %s has no stake", name)
		}
		members[name] = types.Authority{
			Stake:     a.Stake,
			PublicKey: pubKey,
			Address:   a.Address,
		}
	}
	return types.NewCommittee(epoch, members), nil
}
