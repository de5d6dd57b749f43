package main

import (
	"fmt"
	"os"

	"github.com/relaynet/relayd/infrastructure/config"
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/infrastructure/os/signal"
	"github.com/relaynet/relayd/infrastructure/os/winservice"
	"github.com/relaynet/relayd/util/panics"
	"github.com/relaynet/relayd/version"
)

var serviceDescription = &winservice.ServiceDescription{
	Name:        "relayd",
	DisplayName: "Relayd",
	Description: "Accepts transactions and propagates their announcements to connected peers.",
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	mainFunc := func(startedChan chan<- struct{}) error {
		return relaydMain(cfg, startedChan)
	}

	isService, err := winservice.WinServiceMain(mainFunc, serviceDescription, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if isService {
		return
	}

	err = relaydMain(cfg, nil)
	if err != nil {
		os.Exit(1)
	}
}

func relaydMain(cfg *config.Config, startedChan chan<- struct{}) error {
	interrupt := signal.InterruptListener()

	log.Infof("Version %s", version.Version())

	app, err := newRelayd(cfg)
	if err != nil {
		log.Errorf("Error creating relayd: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down relayd...")
		app.stop()
		log.Infof("Relayd shutdown complete")
	}()

	app.start()
	if startedChan != nil {
		startedChan <- struct{}{}
	}

	if signal.InterruptRequested(interrupt) {
		return nil
	}
	<-interrupt
	return nil
}
