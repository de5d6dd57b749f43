package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/version"
)

const (
	defaultConfigFilename               = "relayd.conf"
	defaultLogLevel                     = "info"
	defaultLogDirname                   = "logs"
	defaultLogFilename                  = "relayd.log"
	defaultErrLogFilename               = "relayd_err.log"
	defaultTxnPropagationIntervalMillis = 1000

	// DefaultConnectTimeout is the default connection timeout when dialing a peer.
	DefaultConnectTimeout = time.Second * 30
)

var (
	// DefaultAppDir is the default home directory for relayd.
	DefaultAppDir = btcutil.AppDataDir("relayd", false)

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
)

// Flags defines the configuration options for relayd.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion        bool     `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile         string   `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir             string   `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir             string   `long:"logdir" description:"Directory to log output"`
	LogLevel           string   `short:"d" long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	ConnectPeers       []string `long:"connect" description:"Connect to the specified peer at startup. May be used multiple times"`
	Proxy              string   `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser          string   `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass          string   `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TxnPropagationFreq uint64   `long:"txnpropagationfreq" description:"Frequency in milliseconds at which queued transaction announcements are propagated to connected peers"`
	ServiceOptions     *ServiceOptions
}

// ServiceOptions defines the configuration options for the daemon as a service
// on Windows.
type ServiceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// Config defines the configuration options for relayd.
type Config struct {
	*Flags

	// TxnPropagationInterval is TxnPropagationFreq as a time.Duration.
	TxnPropagationInterval time.Duration
}

func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:         defaultConfigFile,
		AppDir:             DefaultAppDir,
		LogLevel:           defaultLogLevel,
		TxnPropagationFreq: defaultTxnPropagationIntervalMillis,
		ServiceOptions:     &ServiceOptions{},
	}
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfgFlags *Flags, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfgFlags, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", cfgFlags.ServiceOptions)
	}
	return parser
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// LoadConfig also initializes logging and configures it accordingly.
func LoadConfig() (*Config, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := defaultFlags()
	preParser := newConfigParser(preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if ok := errors.As(err, &flagsErr); ok && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := newConfigParser(cfgFlags, flags.Default)
	cfg := &Config{Flags: cfgFlags}
	configFilePathWasSpecified := preCfg.ConfigFile != defaultConfigFile
	if configFilePathWasSpecified || fileExists(preCfg.ConfigFile) {
		err := flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile))
		if err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, errors.Wrapf(err, "error parsing config file %s", preCfg.ConfigFile)
			}
			if configFilePathWasSpecified {
				return nil, errors.Wrapf(err, "could not read config file %s", preCfg.ConfigFile)
			}
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if ok := errors.As(err, &flagsErr); !ok || flagsErr.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	err = cfg.resolve()
	if err != nil {
		return nil, err
	}

	initLog(defaultLogFiles(cfg.LogDir))

	err = logger.SetLogLevels(cfg.LogLevel)
	if err != nil {
		log.Errorf("Invalid --loglevel: %s", err)
		return nil, err
	}

	return cfg, nil
}

// resolve fills in the derived fields of the Config and validates the given
// option values.
func (cfg *Config) resolve() error {
	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDir, defaultLogDirname)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if cfg.TxnPropagationFreq == 0 {
		return errors.New("--txnpropagationfreq must be a positive number of milliseconds")
	}
	cfg.TxnPropagationInterval = time.Duration(cfg.TxnPropagationFreq) * time.Millisecond

	if cfg.Proxy != "" {
		_, _, err := net.SplitHostPort(cfg.Proxy)
		if err != nil {
			return errors.Wrapf(err, "--proxy address %s is invalid", cfg.Proxy)
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
