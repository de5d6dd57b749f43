package winservice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/winsvc/eventlog"
	"github.com/btcsuite/winsvc/mgr"
	"github.com/btcsuite/winsvc/svc"
	"github.com/pkg/errors"

	"github.com/relaynet/relayd/infrastructure/config"
	"github.com/relaynet/relayd/infrastructure/os/signal"
	"github.com/relaynet/relayd/version"
)

// Service wraps the application's main in the windows service control
// machinery.
type Service struct {
	main        MainFunc
	description *ServiceDescription
	cfg         *config.Config
	eventLog    *eventlog.Log
}

func newService(main MainFunc, description *ServiceDescription, cfg *config.Config) *Service {
	return &Service{
		main:        main,
		description: description,
		cfg:         cfg,
	}
}

// Start starts the service control dispatcher for this service.
func (s *Service) Start() error {
	elog, err := eventlog.Open(s.description.Name)
	if err != nil {
		return err
	}
	s.eventLog = elog
	defer s.eventLog.Close()

	err = svc.Run(s.description.Name, s)
	if err != nil {
		s.eventLog.Error(1, fmt.Sprintf("Service start failed: %s", err))
		return err
	}
	return nil
}

// Execute is the main entry point the winsvc package calls when receiving
// information from the Windows service control manager. It launches the
// long-running main, and manages status updates for stop and shutdown
// requests.
func (s *Service) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	doneChan := make(chan error)
	startedChan := make(chan struct{})
	go func() {
		doneChan <- s.main(startedChan)
	}()

	var mainDoneErr error
loop:
	for {
		select {
		case <-startedChan:
			changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
			s.eventLog.Info(1, fmt.Sprintf("%s version %s started", s.description.Name, version.Version()))

		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				// Signal the main function to exit.
				signal.ShutdownRequestChannel <- struct{}{}

			default:
				s.eventLog.Error(1, fmt.Sprintf("Unexpected control request #%d.", c.Cmd))
			}

		case mainDoneErr = <-doneChan:
			break loop
		}
	}

	if mainDoneErr != nil {
		s.eventLog.Error(1, fmt.Sprintf("Service exited with error: %s", mainDoneErr))
		return false, 1
	}
	return false, 0
}

// performServiceCommand attempts to run one of the supported service commands
// provided on the command line via the service command flag. An appropriate
// error is returned if an invalid command is specified.
func (s *Service) performServiceCommand() error {
	command := s.cfg.ServiceOptions.ServiceCommand
	switch command {
	case "install":
		return s.installService()
	case "remove":
		return s.removeService()
	case "start":
		return s.startService()
	case "stop":
		return s.stopService()
	default:
		return errors.Errorf("invalid service command [%s]", command)
	}
}

// installService attempts to install the service. Once successfully
// installed, it also attempts to add the event log source so logged messages
// show up properly in the event viewer.
func (s *Service) installService() error {
	exePath, err := filepath.Abs(os.Args[0])
	if err != nil {
		return err
	}

	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err == nil {
		service.Close()
		return errors.Errorf("service %s already exists", s.description.Name)
	}

	service, err = serviceManager.CreateService(s.description.Name, exePath, mgr.Config{
		DisplayName: s.description.DisplayName,
		Description: s.description.Description,
	})
	if err != nil {
		return err
	}
	defer service.Close()

	// Support events to the event log using the standard "standard" Windows
	// EventCreate.exe message file. This allows easy logging of custom
	// messages instead of needing to create our own message catalog.
	eventsSupported := uint32(eventlog.Error | eventlog.Warning | eventlog.Info)
	return eventlog.InstallAsEventCreate(s.description.Name, eventsSupported)
}

// removeService attempts to uninstall the service. Any installed event log
// source is left in place in case the service is reinstalled.
func (s *Service) removeService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("service %s is not installed", s.description.Name)
	}
	defer service.Close()

	return service.Delete()
}

// startService attempts to start the service.
func (s *Service) startService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("could not access service: %s", err)
	}
	defer service.Close()

	return service.Start(os.Args)
}

// stopService attempts to stop the service and waits for it to reach the
// stopped state.
func (s *Service) stopService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("could not access service: %s", err)
	}
	defer service.Close()

	status, err := service.Control(svc.Stop)
	if err != nil {
		return err
	}

	// Send the stop manually in order to be able to wait for the service
	// to actually stop before returning.
	timeout := time.Now().Add(10 * time.Second)
	for status.State != svc.Stopped {
		if time.Now().After(timeout) {
			return errors.Errorf("timeout waiting for service to stop")
		}
		time.Sleep(300 * time.Millisecond)
		status, err = service.Query()
		if err != nil {
			return err
		}
	}

	return nil
}
