package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"grouptrade/src/broker/sim"
	"grouptrade/src/database"
	"grouptrade/src/engine"
	"grouptrade/src/journal"
	"grouptrade/src/notifier"
	"grouptrade/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// A simulated brokerage backs the daemon until live connectivity is
	// plugged in behind the AccountProvider boundary.
	config := engine.GetConfig()
	provider := sim.NewBroker()
	provider.AddAccount(config.LeaderAccount, 100000, 50000)
	for _, follower := range config.CopyConfiguration().FollowerAccounts {
		provider.AddAccount(follower.AccountName, 100000, 50000)
	}

	alerts := notifier.NewWebhookNotifier(notifier.GetConfig())
	defer alerts.Close()

	events := journal.NewRepository()

	e := engine.New(provider).
		WithAlerter(alerts).
		WithJournal(events)

	if err := e.Start(config.CopyConfiguration()); err != nil {
		logger.WithError(err).Fatal("Failed to start replication engine")
	}
	defer e.Stop()

	// Time-based guard rules need their own heartbeat.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			e.Guard().PeriodicCheck()
		}
	}()

	server.StartServer(server.GetConfig().Port, e, events)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
