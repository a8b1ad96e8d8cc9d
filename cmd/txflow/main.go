package main

import (
	"log"
	"strings"

	"github.com/mohitkumar/txflow/config"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/sandbox"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}

type cli struct {
	cfg    cfg
	script sandbox.Script
}

func setupFlags(cmd *cobra.Command) error {
	defaults := config.Default()
	flags := cmd.PersistentFlags()
	flags.String("config-file", "", "Path to config file.")
	flags.String("storage-impl", string(defaults.StorageType), "session storage, memory or redis")
	flags.String("redis-addr", strings.Join(defaults.RedisConfig.Addrs, ","), "comma separated list of redis host:port")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-pool-size", 0, "redis connection pool size, 0 uses the client default")
	flags.String("namespace", defaults.RedisConfig.Namespace, "namespace used in storage")
	flags.Duration("session-ttl", defaults.SessionTTL, "how long an abandoned flow can be resumed")
	flags.Duration("record-ttl", defaults.RecordTTL, "how long optimistic and confirmed records are kept")
	flags.String("log-level", defaults.LogLevel, "debug, info, warn or error")
	flags.Bool("development", false, "human readable logs")
	flags.Duration("confirmation-timeout", defaults.ConfirmationTimeout, "how long to wait for a submission to be confirmed")
	flags.Duration("poll-interval", defaults.PollInterval, "initial confirmation poll interval")
	flags.Duration("max-poll-interval", defaults.MaxPollInterval, "maximum confirmation poll interval")
	flags.String("invalidation-mode", string(defaults.InvalidationMode), "lazy re-checks before execution, proactive also checks on an interval")
	flags.Duration("invalidation-interval", defaults.InvalidationInterval, "interval of proactive staleness checks")

	flags.String("sandbox-approval", "", "approval the sandbox backend reports: required, notRequired or undetermined")
	flags.Int("sandbox-reject", 0, "number of submissions the sandbox wallet rejects")
	flags.Int("sandbox-network-errors", 0, "number of submissions failing with a network error after the rejections")
	flags.Int("sandbox-pending-polls", 0, "number of lookups a submission stays unindexed")
	flags.Bool("sandbox-revert", false, "revert every submission")
	flags.Bool("sandbox-never-confirm", false, "never index any submission")
	flags.Duration("sandbox-latency", 0, "wallet latency of every submission")
	flags.String("sandbox-fee", "", "marketplace fee put on confirmed records")
	return viper.BindPFlags(flags)
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile := viper.GetString("config-file")
	if len(configFile) > 0 {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	c.cfg.Config = config.Default()
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SessionTTL = viper.GetDuration("session-ttl")
	c.cfg.RecordTTL = viper.GetDuration("record-ttl")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.Development = viper.GetBool("development")
	c.cfg.ConfirmationTimeout = viper.GetDuration("confirmation-timeout")
	c.cfg.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.MaxPollInterval = viper.GetDuration("max-poll-interval")
	c.cfg.InvalidationMode = config.InvalidationMode(viper.GetString("invalidation-mode"))
	c.cfg.InvalidationInterval = viper.GetDuration("invalidation-interval")
	if viper.IsSet("http-port") {
		c.cfg.HttpPort = viper.GetInt("http-port")
	}

	c.script = sandbox.Script{
		Approval:       model.Requirement(viper.GetString("sandbox-approval")),
		RejectSubmits:  viper.GetInt("sandbox-reject"),
		NetworkErrors:  viper.GetInt("sandbox-network-errors"),
		PendingPolls:   viper.GetInt("sandbox-pending-polls"),
		Revert:         viper.GetBool("sandbox-revert"),
		NeverConfirm:   viper.GetBool("sandbox-never-confirm"),
		Latency:        viper.GetDuration("sandbox-latency"),
		MarketplaceFee: viper.GetString("sandbox-fee"),
	}
	return logger.Init(c.cfg.LogLevel, c.cfg.Development)
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:               "txflow",
		Short:             "Drives marketplace transaction flows step by step",
		PersistentPreRunE: cli.setupConfig,
		SilenceUsage:      true,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}
	serveCmd, err := cli.serveCommand()
	if err != nil {
		log.Fatal(err)
	}
	simulateCmd, err := cli.simulateCommand()
	if err != nil {
		log.Fatal(err)
	}
	cmd.AddCommand(serveCmd, simulateCmd)

	defer logger.Sync()
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
