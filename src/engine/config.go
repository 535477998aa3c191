package engine

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"grouptrade/src/model"
)

type Config struct {
	LeaderAccount    string  `envconfig:"LEADER_ACCOUNT" default:""`
	FollowerAccounts string  `envconfig:"FOLLOWER_ACCOUNTS" default:""`
	RatioMode        string  `envconfig:"RATIO_MODE" default:"exact"`
	FixedRatio       float64 `envconfig:"FIXED_RATIO" default:"1"`
	CopyMode         string  `envconfig:"COPY_MODE" default:"all_orders"`
	SyncOrderCancel  bool    `envconfig:"SYNC_ORDER_CANCEL" default:"true"`
	SyncOrderModify  bool    `envconfig:"SYNC_ORDER_MODIFY" default:"true"`
	CancelOpenOnStop bool    `envconfig:"CANCEL_OPEN_ON_STOP" default:"true"`
	StealthMode      bool    `envconfig:"STEALTH_MODE" default:"false"`
	EnableGuard      bool    `envconfig:"ENABLE_FOLLOWER_GUARD" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// CopyConfiguration translates the flat environment settings into a runnable
// configuration. Every follower named in FOLLOWER_ACCOUNTS gets the same
// ratio policy.
func (c Config) CopyConfiguration() model.CopyConfiguration {
	config := model.DefaultCopyConfiguration()
	config.LeaderAccountName = c.LeaderAccount
	config.CopyMode = model.CopyMode(c.CopyMode)
	config.SyncOrderCancel = c.SyncOrderCancel
	config.SyncOrderModify = c.SyncOrderModify
	config.CancelOpenOnStop = c.CancelOpenOnStop
	config.StealthMode = c.StealthMode
	config.EnableFollowerGuard = c.EnableGuard

	for _, name := range strings.Split(c.FollowerAccounts, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		config.FollowerAccounts = append(config.FollowerAccounts, model.FollowerAccountConfig{
			AccountName: name,
			Enabled:     true,
			RatioMode:   model.RatioMode(c.RatioMode),
			FixedRatio:  c.FixedRatio,
		})
	}
	return config
}
