package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	restclient "github.com/ArkLabsHQ/coinflip/internal/infrastructure/ark-client/rest"
	"github.com/ArkLabsHQ/coinflip/internal/infrastructure/db"
	inmemorylivestore "github.com/ArkLabsHQ/coinflip/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/ArkLabsHQ/coinflip/internal/infrastructure/live-store/redis"
	nostrcodec "github.com/ArkLabsHQ/coinflip/internal/infrastructure/nostr"
	txbuilder "github.com/ArkLabsHQ/coinflip/internal/infrastructure/tx-builder/covenantless"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedTxBuilders = supportedType{
		"covenantless": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
)

type Config struct {
	Datadir  string
	LogLevel int

	ServerUrl     string
	PrivateKey    string
	EventDbType   string
	SecretDbType  string
	DbDir         string
	TxBuilderType string
	LiveStoreType string
	RedisUrl      string
	// SetupTimeout and FinalTimeout are the offsets from the creation of a
	// game of its setup and final expirations.
	SetupTimeout time.Duration
	FinalTimeout time.Duration

	key       *btcec.PrivateKey
	repo      ports.RepoManager
	arkClient ports.ArkClient
	txBuilder ports.TxBuilder
	liveStore ports.LiveStore
	codec     ports.EnvelopeCodec
	svc       application.Service
}

func (c *Config) String() string {
	clone := *c
	if clone.PrivateKey != "" {
		clone.PrivateKey = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir       = "DATADIR"
	LogLevel      = "LOG_LEVEL"
	ServerUrl     = "SERVER_URL"
	PrivateKey    = "PRIVATE_KEY"
	EventDbType   = "EVENT_DB_TYPE"
	SecretDbType  = "SECRET_DB_TYPE"
	TxBuilderType = "TX_BUILDER_TYPE"
	LiveStoreType = "LIVE_STORE_TYPE"
	RedisUrl      = "REDIS_URL"
	SetupTimeout  = "SETUP_TIMEOUT"
	FinalTimeout  = "FINAL_TIMEOUT"

	defaultDatadir       = btcutil.AppDataDir("coinflip", false)
	defaultLogLevel      = 4
	defaultServerUrl     = "http://localhost:7070"
	defaultEventDbType   = "badger"
	defaultSecretDbType  = "sqlite"
	defaultTxBuilderType = "covenantless"
	defaultLiveStoreType = "inmemory"
	defaultSetupTimeout  = 3600  // 1 hour
	defaultFinalTimeout  = 86400 // 24 hours
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("COINFLIP")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(ServerUrl, defaultServerUrl)
	viper.SetDefault(EventDbType, defaultEventDbType)
	viper.SetDefault(SecretDbType, defaultSecretDbType)
	viper.SetDefault(TxBuilderType, defaultTxBuilderType)
	viper.SetDefault(LiveStoreType, defaultLiveStoreType)
	viper.SetDefault(SetupTimeout, defaultSetupTimeout)
	viper.SetDefault(FinalTimeout, defaultFinalTimeout)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	var redisUrl string
	if viper.GetString(LiveStoreType) == "redis" {
		redisUrl = viper.GetString(RedisUrl)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	return &Config{
		Datadir:       viper.GetString(Datadir),
		LogLevel:      viper.GetInt(LogLevel),
		ServerUrl:     viper.GetString(ServerUrl),
		PrivateKey:    viper.GetString(PrivateKey),
		EventDbType:   viper.GetString(EventDbType),
		SecretDbType:  viper.GetString(SecretDbType),
		DbDir:         filepath.Join(viper.GetString(Datadir), "db"),
		TxBuilderType: viper.GetString(TxBuilderType),
		LiveStoreType: viper.GetString(LiveStoreType),
		RedisUrl:      redisUrl,
		SetupTimeout:  time.Duration(viper.GetInt64(SetupTimeout)) * time.Second,
		FinalTimeout:  time.Duration(viper.GetInt64(FinalTimeout)) * time.Second,
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s", supportedDbs,
		)
	}
	if !supportedDbs.supports(c.SecretDbType) {
		return fmt.Errorf(
			"secret db type not supported, please select one of: %s", supportedDbs,
		)
	}
	if !supportedTxBuilders.supports(c.TxBuilderType) {
		return fmt.Errorf(
			"tx builder type not supported, please select one of: %s",
			supportedTxBuilders,
		)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	if c.ServerUrl == "" {
		return fmt.Errorf("missing server url")
	}
	if c.SetupTimeout <= 0 {
		return fmt.Errorf("invalid setup timeout, must be greater than 0")
	}
	if c.FinalTimeout <= c.SetupTimeout {
		return fmt.Errorf("invalid final timeout, must be greater than setup timeout")
	}

	if err := c.privateKey(); err != nil {
		return err
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.arkClientService(); err != nil {
		return err
	}
	if err := c.txBuilderService(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.envelopeCodec(); err != nil {
		return err
	}
	return nil
}

// AppService connects to the ledger server on first call.
func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

// Close releases the stores opened by Validate.
func (c *Config) Close() {
	if c.svc != nil {
		c.svc.Close()
		return
	}
	if c.repo != nil {
		c.repo.Close()
	}
}

func (c *Config) privateKey() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("missing private key")
	}
	buf, err := hex.DecodeString(c.PrivateKey)
	if err != nil || len(buf) != 32 {
		return fmt.Errorf("invalid private key: must be 32 bytes in hex format")
	}
	c.key, _ = btcec.PrivKeyFromBytes(buf)
	return nil
}

func (c *Config) repoManager() error {
	logger := log.New()
	storeConfig := func(dbType string) []interface{} {
		if dbType == "badger" {
			return []interface{}{c.DbDir, logger}
		}
		return []interface{}{c.DbDir}
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:    c.EventDbType,
		SecretStoreType:   c.SecretDbType,
		EventStoreConfig:  storeConfig(c.EventDbType),
		SecretStoreConfig: storeConfig(c.SecretDbType),
	})
	if err != nil {
		return err
	}
	c.repo = svc
	return nil
}

func (c *Config) arkClientService() error {
	client, err := restclient.NewClient(c.ServerUrl, schnorr.SerializePubKey(c.key.PubKey()))
	if err != nil {
		return err
	}
	c.arkClient = client
	return nil
}

func (c *Config) txBuilderService() error {
	var svc ports.TxBuilder
	var err error
	switch c.TxBuilderType {
	case "covenantless":
		svc = txbuilder.NewTxBuilder()
	default:
		err = fmt.Errorf("unknown tx builder type")
	}
	if err != nil {
		return err
	}

	c.txBuilder = svc
	return nil
}

func (c *Config) liveStoreService() error {
	var liveStoreSvc ports.LiveStore
	var err error
	switch c.LiveStoreType {
	case "inmemory":
		liveStoreSvc = inmemorylivestore.NewLiveStore()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		// agents sharing a redis instance keep their own sets
		prefix := fmt.Sprintf("coinflip:%x", schnorr.SerializePubKey(c.key.PubKey()))
		liveStoreSvc = redislivestore.NewLiveStore(rdb, prefix)
	default:
		err = fmt.Errorf("unknown liveStore type")
	}

	if err != nil {
		return err
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) envelopeCodec() error {
	codec, err := nostrcodec.NewEnvelopeCodec(c.key)
	if err != nil {
		return err
	}
	c.codec = codec
	return nil
}

func (c *Config) appService() error {
	if c.repo == nil {
		return fmt.Errorf("config not validated")
	}
	svc, err := application.NewService(
		c.key, c.arkClient, c.txBuilder, c.repo, c.liveStore, c.codec,
		c.SetupTimeout, c.FinalTimeout,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
