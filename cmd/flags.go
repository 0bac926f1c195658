package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/pflag"

	"dyson/config"
)

const (
	FileKey        = "file"
	PIDKey         = "pid"
	CollectKey     = "collect"
	WorkspaceKey   = "workspace"
	MetricsAddrKey = "metrics-addr"
	LogLevelKey    = "log-level"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.StringP(FileKey, "f", "", "Path of the input parameter file")
	flags.IntP(PIDKey, "p", -1, "Use PID to find the input file <workspace>/infile/_in_DYSON_<PID>")
	flags.BoolP(CollectKey, "c", false, "Collect all the _statis files into statis_total and exit")
	flags.String(WorkspaceKey, ".", "Directory holding statistics, checkpoint and output files")
	flags.String(MetricsAddrKey, "", "Address to serve Prometheus metrics on, disabled if empty")
	flags.String(LogLevelKey, "info", "Log level (debug, info, warn, error)")
}

type Config struct {
	InputFile   string
	Collect     bool
	Workspace   string
	MetricsAddr string
	LogLevel    string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	workspace, err := flags.GetString(WorkspaceKey)
	if err != nil {
		return nil, err
	}
	if workspace, err = filepath.Abs(workspace); err != nil {
		return nil, err
	}

	file, err := flags.GetString(FileKey)
	if err != nil {
		return nil, err
	}
	pid, err := flags.GetInt(PIDKey)
	if err != nil {
		return nil, err
	}
	switch {
	case pid >= 0:
		file = config.InputFile(workspace, pid)
	case file != "":
		if file, err = filepath.Abs(file); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("either --pid or --file is required")
	}

	collect, err := flags.GetBool(CollectKey)
	if err != nil {
		return nil, err
	}
	metricsAddr, err := flags.GetString(MetricsAddrKey)
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString(LogLevelKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		InputFile:   file,
		Collect:     collect,
		Workspace:   workspace,
		MetricsAddr: metricsAddr,
		LogLevel:    logLevel,
	}, nil
}
