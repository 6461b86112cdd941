package main

import (
	"errors"

	"github.com/GrainArc/Surfclass"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app 命令共享的运行环境
type app struct {
	v          *viper.Viper
	cfg        *Surfclass.Config
	log        *zap.SugaredLogger
	ledger     *Surfclass.RunLedger
	metrics    *Surfclass.Metrics
	configFile string
	verbose    bool
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: Surfclass.NewViper()}
	root := &cobra.Command{
		Use:           "surfclass",
		Short:         "Surface classification of LiDAR/orthophoto derived rasters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configFile, "config", "", "config file (default <user config dir>/Surfclass/config.yaml)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	f.Int("tile-size", Surfclass.DefaultTileSize, "tile edge length in pixels")
	f.Int("processors", 1, "parallel tiles: 1 sequential, -1 all CPUs, -2 all CPUs but one")
	f.String("ledger", "", "record classification runs in this SQLite database")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	a.bindFlags(f, map[string]string{
		"tile_size":    "tile-size",
		"processors":   "processors",
		"ledger":       "ledger",
		"metrics_file": "metrics-file",
	})

	root.AddCommand(newClassifyCmd(a), newTrainCmd(a), newModelCmd(a), newRunsCmd(a))
	return root, a
}

// bindFlags 把命令行参数绑定到配置键，key -> flag
func (a *app) bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// init 读取配置、创建日志、打开台账和指标
func (a *app) init() error {
	// 配置读取前先用默认级别输出日志
	l, err := Surfclass.NewLogger("info", a.verbose)
	if err != nil {
		return err
	}
	Surfclass.SetLogger(l)
	a.log = l.Sugar()

	cfg, err := Surfclass.LoadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cfg.LogLevel != "info" && !a.verbose {
		l, err := Surfclass.NewLogger(cfg.LogLevel, false)
		if err != nil {
			return err
		}
		Surfclass.SetLogger(l)
		a.log = l.Sugar()
	}

	if cfg.MetricsFile != "" {
		a.metrics = Surfclass.NewMetrics()
	}
	if cfg.Ledger != "" {
		ledger, err := Surfclass.OpenRunLedger(cfg.Ledger)
		if err != nil {
			return err
		}
		a.ledger = ledger
	}
	return nil
}

// close 写出指标并关闭台账
func (a *app) close() error {
	var errs []error
	if a.metrics != nil && a.cfg != nil {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ledger = nil
	}
	return errors.Join(errs...)
}
