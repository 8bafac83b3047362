// Package gwconfig loads the gwatchd configuration
// from flags, GWATCH_ environment variables, and an optional config file.
package gwconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwreboot"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended, with an underscore, to environment variable names.
// The flag "http-addr" is read from GWATCH_HTTP_ADDR.
const EnvPrefix = "GWATCH"

const (
	ConfigFileFlag = "config"

	processNameFlag    = "process-name"
	defaultTimeoutFlag = "default-timeout"
	checkIntervalFlag  = "check-interval"
	reportTimeoutFlag  = "report-timeout"
	allowRestartFlag   = "allow-restart"
	loopersFlag        = "loopers"
	nativeStacksFlag   = "native-stacks"
	interestingFlag    = "interesting-processes"

	tracesPathFlag     = "traces-path"
	procRootFlag       = "proc-root"
	sysrqPathFlag      = "sysrq-path"
	detectDebuggerFlag = "detect-debugger"

	httpAddrFlag      = "http-addr"
	httpAddrFileFlag  = "http-addr-file"
	controllerURLFlag = "controller-url"

	sqlitePathFlag = "sqlite-path"
	lockPathFlag   = "lock-path"

	logLevelFlag      = "log-level"
	logFileFlag       = "log-file"
	logMaxSizeFlag    = "log-max-size-mb"
	logMaxBackupsFlag = "log-max-backups"

	// Only registered in debug builds.
	assertRulesFlag = "assert-rules"

	rebootIntervalFlag     = "reboot.interval"
	rebootWindowStartFlag  = "reboot.window-start"
	rebootWindowLengthFlag = "reboot.window-length"
	rebootMinIdleFlag      = "reboot.min-idle"
	rebootMinWakeupFlag    = "reboot.min-until-wakeup"
	rebootRecheckFlag      = "reboot.recheck-interval"

	// Only settable from the config file.
	fileSettingsKey = "file-settings"
)

// Config is the complete gwatchd configuration.
type Config struct {
	ProcessName    string
	DefaultTimeout time.Duration
	CheckInterval  time.Duration
	ReportTimeout  time.Duration
	AllowRestart   bool

	// Names of the loopers to start and watch.
	// The first one also runs the probes added with [*gwatchdog.Watchdog.AddProbe].
	Loopers []string

	NativeStacksOfInterest []string
	InterestingProcesses   []string

	TracesPath     string
	ProcRoot       string
	SysrqPath      string
	DetectDebugger bool

	// Blank disables the admin HTTP server.
	HTTPAddr     string
	HTTPAddrFile string

	// Blank means no external controller.
	ControllerURL string

	// Blank uses an in-memory store;
	// ":memory:" uses an in-memory SQLite database;
	// anything else is the path to an on-disk SQLite database.
	SQLitePath string

	// Blank disables the single-instance lock.
	LockPath string

	LogLevel      slog.Level
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	Reboot gwreboot.Config

	FileSettings []FileSetting

	// Comma-separated assertion rules; see package gassert.
	// Ignored in non-debug builds.
	AssertRules string
}

// FileSetting is a one-line setting file that a probe keeps at a fixed value.
type FileSetting struct {
	Path string
	Want string
}

// AddFlags registers every configuration flag, with its default, on fs.
func AddFlags(fs *pflag.FlagSet) {
	wd := gwatchdog.DefaultConfig()
	rb := gwreboot.DefaultConfig()

	fs.String(ConfigFileFlag, "", "Path to a YAML, TOML, or JSON config file")

	fs.String(processNameFlag, wd.ProcessName, "Process name reported with diagnostics")
	fs.Duration(defaultTimeoutFlag, wd.DefaultTimeout, "Timeout for checkers registered without an explicit one")
	fs.Duration(checkIntervalFlag, 0, "Time between evaluation cycles; zero means half the default timeout")
	fs.Duration(reportTimeoutFlag, wd.ReportTimeout, "Longest wait for the diagnostics store during an escalation")
	fs.Bool(allowRestartFlag, true, "Whether an overdue checker may terminate the process")
	fs.StringSlice(loopersFlag, []string{"main", "io", "ui"}, "Names of loopers to run and watch; the first also runs monitor probes")
	fs.StringSlice(nativeStacksFlag, nil, "Executable paths whose processes' kernel stacks are dumped on escalation")
	fs.StringSlice(interestingFlag, nil, "Process names whose PIDs are included in dumps once reported")

	fs.String(tracesPathFlag, "/var/lib/gwatch/traces.txt", "File that stack dumps are written to")
	fs.String(procRootFlag, "/proc", "Mount point of procfs")
	fs.String(sysrqPathFlag, "/proc/sysrq-trigger", "Path to the sysrq trigger; blank disables the kernel blocked task dump")
	fs.Bool(detectDebuggerFlag, true, "Suppress termination while a tracer is attached")

	fs.String(httpAddrFlag, "", "TCP address of the admin HTTP server; if blank, server will not be started")
	fs.String(httpAddrFileFlag, "", "Write the actual HTTP listen address to the given file (useful for tests when configured to listen on :0)")
	fs.String(controllerURLFlag, "", "URL of an external controller consulted before termination")

	fs.String(sqlitePathFlag, "", "Path to the diagnostics database; if blank, uses an in-memory store; if the exact string :memory:, uses SQLite in-memory database")
	fs.String(lockPathFlag, "", "Lock file ensuring a single gwatchd instance; blank disables locking")

	fs.String(logLevelFlag, "info", "Log level (debug|info|warn|error)")
	fs.String(logFileFlag, "", "Also write logs to this file, with rotation")
	fs.Int(logMaxSizeFlag, 100, "Size in megabytes at which the log file is rotated")
	fs.Int(logMaxBackupsFlag, 3, "Number of rotated log files to keep")

	fs.Duration(rebootIntervalFlag, rb.Interval, "Minimum uptime before a scheduled reboot; zero disables scheduled reboots")
	fs.Duration(rebootWindowStartFlag, rb.WindowStart, "Start of the daily reboot window, as an offset from midnight")
	fs.Duration(rebootWindowLengthFlag, rb.WindowLength, "Length of the daily reboot window")
	fs.Duration(rebootMinIdleFlag, rb.MinIdle, "Minimum idle time before a scheduled reboot")
	fs.Duration(rebootMinWakeupFlag, rb.MinUntilWakeup, "Minimum time until the next scheduled wake-up")
	fs.Duration(rebootRecheckFlag, rb.RecheckInterval, "Delay before rechecking a vetoed scheduled reboot")

	// Adds --assert-rules in debug builds, no-op otherwise.
	addAssertRulesFlag(fs)
}

// Load reads the configuration from fs, which must have been populated by [AddFlags],
// from the environment, and from the config file named by the config flag.
//
// Precedence, highest first: explicitly set flags, environment, config file, flag defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString(ConfigFileFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{
		ProcessName:    v.GetString(processNameFlag),
		DefaultTimeout: v.GetDuration(defaultTimeoutFlag),
		CheckInterval:  v.GetDuration(checkIntervalFlag),
		ReportTimeout:  v.GetDuration(reportTimeoutFlag),
		AllowRestart:   v.GetBool(allowRestartFlag),

		Loopers:                v.GetStringSlice(loopersFlag),
		NativeStacksOfInterest: v.GetStringSlice(nativeStacksFlag),
		InterestingProcesses:   v.GetStringSlice(interestingFlag),

		TracesPath:     v.GetString(tracesPathFlag),
		ProcRoot:       v.GetString(procRootFlag),
		SysrqPath:      v.GetString(sysrqPathFlag),
		DetectDebugger: v.GetBool(detectDebuggerFlag),

		HTTPAddr:      v.GetString(httpAddrFlag),
		HTTPAddrFile:  v.GetString(httpAddrFileFlag),
		ControllerURL: v.GetString(controllerURLFlag),

		SQLitePath: v.GetString(sqlitePathFlag),
		LockPath:   v.GetString(lockPathFlag),

		LogFile:       v.GetString(logFileFlag),
		LogMaxSizeMB:  v.GetInt(logMaxSizeFlag),
		LogMaxBackups: v.GetInt(logMaxBackupsFlag),

		Reboot: gwreboot.Config{
			Interval:        v.GetDuration(rebootIntervalFlag),
			WindowStart:     v.GetDuration(rebootWindowStartFlag),
			WindowLength:    v.GetDuration(rebootWindowLengthFlag),
			MinIdle:         v.GetDuration(rebootMinIdleFlag),
			MinUntilWakeup:  v.GetDuration(rebootMinWakeupFlag),
			RecheckInterval: v.GetDuration(rebootRecheckFlag),
		},

		AssertRules: v.GetString(assertRulesFlag),
	}

	var err error
	if lerr := c.LogLevel.UnmarshalText([]byte(v.GetString(logLevelFlag))); lerr != nil {
		err = errors.Join(err, fmt.Errorf("invalid %s: %w", logLevelFlag, lerr))
	}

	if uerr := v.UnmarshalKey(fileSettingsKey, &c.FileSettings); uerr != nil {
		err = errors.Join(err, fmt.Errorf("invalid %s: %w", fileSettingsKey, uerr))
	}

	return c, errors.Join(err, c.Validate())
}

// Validate reports every problem with c.
// Watchdog settings are checked again by [gwatchdog.New],
// but the errors here name the flags.
func (c Config) Validate() error {
	var err error

	if c.ReportTimeout <= 0 || c.ReportTimeout > gwatchdog.DefaultReportTimeout {
		err = errors.Join(err, fmt.Errorf(
			"%s must be in (0, %s]; got %s", reportTimeoutFlag, gwatchdog.DefaultReportTimeout, c.ReportTimeout,
		))
	}

	if len(c.Loopers) == 0 {
		err = errors.Join(err, fmt.Errorf("%s must name at least one looper", loopersFlag))
	}
	seen := make(map[string]struct{}, len(c.Loopers))
	for _, l := range c.Loopers {
		if l == "" {
			err = errors.Join(err, fmt.Errorf("%s must not contain empty names", loopersFlag))
			continue
		}
		if _, ok := seen[l]; ok {
			err = errors.Join(err, fmt.Errorf("%s contains duplicate name %q", loopersFlag, l))
		}
		seen[l] = struct{}{}
	}

	if c.TracesPath == "" {
		err = errors.Join(err, fmt.Errorf("%s must not be empty", tracesPathFlag))
	}
	if c.ProcRoot == "" {
		err = errors.Join(err, fmt.Errorf("%s must not be empty", procRootFlag))
	}
	if c.HTTPAddrFile != "" && c.HTTPAddr == "" {
		err = errors.Join(err, fmt.Errorf("%s requires %s", httpAddrFileFlag, httpAddrFlag))
	}

	if c.LogFile != "" {
		if c.LogMaxSizeMB <= 0 {
			err = errors.Join(err, fmt.Errorf("%s must be positive", logMaxSizeFlag))
		}
		if c.LogMaxBackups < 0 {
			err = errors.Join(err, fmt.Errorf("%s must not be negative", logMaxBackupsFlag))
		}
	}

	for i, s := range c.FileSettings {
		if s.Path == "" {
			err = errors.Join(err, fmt.Errorf("%s[%d].path must not be empty", fileSettingsKey, i))
		}
	}

	if _, aerr := c.AssertEnv(); aerr != nil {
		err = errors.Join(err, fmt.Errorf("invalid %s: %w", assertRulesFlag, aerr))
	}

	return err
}

// WatchdogConfig returns the subset of c used by [gwatchdog.New].
func (c Config) WatchdogConfig() gwatchdog.Config {
	return gwatchdog.Config{
		DefaultTimeout:         c.DefaultTimeout,
		CheckInterval:          c.CheckInterval,
		ReportTimeout:          c.ReportTimeout,
		NativeStacksOfInterest: c.NativeStacksOfInterest,
		InterestingProcesses:   c.InterestingProcesses,
		ProcessName:            c.ProcessName,
	}
}
