package main

import (
	"io"

	"github.com/GrainArc/Surfclass"
	"github.com/spf13/cobra"
)

type trainFlags struct {
	numTrees       int
	processors     int
	seed           int64
	maxDepth       int
	minSamplesLeaf int
}

func (f *trainFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.numTrees, "numtrees", "n", 100, "number of trees/estimators")
	fs.IntVarP(&f.processors, "processors", "p", -1,
		"number of processors to use in parallel: -1 all processors, -2 all but one, 1 only one")
	fs.Int64Var(&f.seed, "seed", 0, "random seed")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "maximum tree depth, 0 for unlimited")
	fs.IntVar(&f.minSamplesLeaf, "min-samples-leaf", 1, "minimum samples per leaf")
}

// options 未显式指定的参数取配置文件中的训练默认值
func (f *trainFlags) options(cmd *cobra.Command, cfg Surfclass.TrainConfig) Surfclass.TrainOptions {
	opts := Surfclass.TrainOptions{
		NumTrees:       cfg.Trees,
		Processors:     cfg.Processors,
		Seed:           cfg.Seed,
		MaxDepth:       cfg.MaxDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
	}
	fs := cmd.Flags()
	if fs.Changed("numtrees") {
		opts.NumTrees = f.numTrees
	}
	if fs.Changed("processors") {
		opts.Processors = f.processors
	}
	if fs.Changed("seed") {
		opts.Seed = f.seed
	}
	if fs.Changed("max-depth") {
		opts.MaxDepth = f.maxDepth
	}
	if fs.Changed("min-samples-leaf") {
		opts.MinSamplesLeaf = f.minSamplesLeaf
	}
	return opts
}

func newTrainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train surface classification models using path to training data",
	}
	cmd.AddCommand(
		newTrainSubCmd(a, "randomforestndvi",
			"Train a randomforestndvi model (10 features) from an .npz training archive", "randomforestndvi", false),
		newTrainSubCmd(a, "genericmodel",
			"Train a generic model from an .npz training archive, feature count taken from the data", "", true),
	)
	return cmd
}

func newTrainSubCmd(a *app, name, short, preset string, printStats bool) *cobra.Command {
	var tf trainFlags
	cmd := &cobra.Command{
		Use:   name + " TRAININGDATA OUTPUTFILE",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats io.Writer
			if printStats {
				stats = cmd.OutOrStdout()
			}
			_, err := Surfclass.TrainFromArchive(cmd.Context(), Surfclass.TrainRequest{
				TrainingData: args[0],
				OutputFile:   args[1],
				Preset:       preset,
				Options:      tf.options(cmd, a.cfg.Train),
				Metrics:      a.metrics,
				Stats:        stats,
			})
			return err
		},
	}
	tf.register(cmd)
	return cmd
}
