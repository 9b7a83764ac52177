package runner

import (
	"os"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/projectdiscovery/netwarden/pkg/version"
	envutil "github.com/projectdiscovery/utils/env"
)

var au *aurora.Aurora

var (
	InterfaceEnv    = envutil.GetEnvOrDefault("NETWARDEN_INTERFACE", "")
	ScanIntervalEnv = envutil.GetEnvOrDefault("NETWARDEN_SCAN_INTERVAL", "5s")
	VendorAPIEnv    = envutil.GetEnvOrDefault("NETWARDEN_VENDOR_API", "")
)

// Options contains the configuration options of a netwarden run
type Options struct {
	Interface      string
	ConfigFile     string
	ListInterfaces bool

	Cut      goflags.StringSlice
	Protect  goflags.StringSlice
	Limit    goflags.StringSlice
	Duration time.Duration
	Watch    bool

	ScanInterval   time.Duration
	ReplyWindow    time.Duration
	FakePoisonMAC  bool
	VendorAPI      string
	NoVendorLookup bool
	DNSResolver    string

	JSON        bool
	NoColor     bool
	Silent      bool
	Verbose     bool
	Debug       bool
	Version     bool
	MetricsAddr string
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`netwarden discovers devices on the local segment and cuts, protects or throttles them`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&options.Interface, "interface", "i", InterfaceEnv, "network interface to attach to (default route interface when empty)"),
		flagSet.StringVar(&options.ConfigFile, "config", "", "yaml policy file with engine tuning"),
		flagSet.BoolVarP(&options.ListInterfaces, "list-interfaces", "li", false, "list the IPv4 interfaces of the host and exit"),
	)

	flagSet.CreateGroup("control", "Control",
		flagSet.StringSliceVarP(&options.Cut, "cut", "c", nil, "cut the given devices off the network (comma separated IPs)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringSliceVarP(&options.Protect, "protect", "p", nil, "protect the given devices from ARP spoofing (comma separated IPs)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringSliceVarP(&options.Limit, "limit", "l", nil, "cap device bandwidth as ip=rate, rate in bit/s with k/m/g suffix (e.g. 192.168.1.50=2m)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.DurationVarP(&options.Duration, "duration", "d", 0, "restore everything after this duration (0 keeps running until interrupted)"),
		flagSet.BoolVarP(&options.Watch, "watch", "w", false, "keep monitoring and print the device table every scan"),
	)

	flagSet.CreateGroup("tuning", "Tuning",
		flagSet.DurationVarP(&options.ScanInterval, "scan-interval", "si", parseDurationOr(ScanIntervalEnv, 5*time.Second), "interval between discovery scans"),
		flagSet.DurationVarP(&options.ReplyWindow, "reply-window", "rw", 0, "time to collect ARP replies per scan"),
		flagSet.BoolVarP(&options.FakePoisonMAC, "fake-mac", "fm", false, "claim an unowned MAC instead of the host MAC when cutting"),
		flagSet.StringVarP(&options.VendorAPI, "vendor-api", "va", VendorAPIEnv, "online MAC vendor lookup url, {oui} is replaced"),
		flagSet.BoolVarP(&options.NoVendorLookup, "no-vendor-lookup", "nvl", false, "only use the builtin vendor table"),
		flagSet.StringVarP(&options.DNSResolver, "resolver", "r", "", "dns server (host:port) for reverse lookups (default gateway)"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "write devices as json lines"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
		flagSet.StringVarP(&options.MetricsAddr, "metrics-addr", "ma", "", "serve prometheus metrics on this address (e.g. 127.0.0.1:9099)"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Debug, "debug", false, "show debug output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results in output"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	// configure aurora for logging
	au = aurora.New(aurora.WithColors(true))

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.String())
		os.Exit(0)
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.Debug {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
