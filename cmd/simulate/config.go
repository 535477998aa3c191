package simulate

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LeaderAccount  string  `envconfig:"SIM_LEADER_ACCOUNT" default:"Sim101"`
	FollowerCount  int     `envconfig:"SIM_FOLLOWER_COUNT" default:"2"`
	LeaderEquity   float64 `envconfig:"SIM_LEADER_EQUITY" default:"100000"`
	FollowerEquity float64 `envconfig:"SIM_FOLLOWER_EQUITY" default:"25000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
