package main

import (
	"fmt"
	"strconv"

	"github.com/GrainArc/Surfclass"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type classifyFlags struct {
	bbox      []float64
	prefix    string
	postfix   string
	overwrite bool
}

func (f *classifyFlags) register(cmd *cobra.Command) {
	f.addTo(cmd.Flags())
	_ = cmd.MarkFlagRequired("bbox")
}

func (f *classifyFlags) addTo(fs *pflag.FlagSet) {
	fs.Float64SliceVarP(&f.bbox, "bbox", "b", nil, "bounding box xmin,ymin,xmax,ymax in raster coordinates")
	fs.StringVar(&f.prefix, "prefix", "", "output file prefix")
	fs.StringVar(&f.postfix, "postfix", "", "output file postfix")
	fs.BoolVar(&f.overwrite, "overwrite", true, "replace an existing output file")
}

func newClassifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Surface classify raster",
	}
	pf := cmd.PersistentFlags()
	pf.Float64("nodata", 0, "nodata value of the classified raster")
	pf.String("data-type", "Byte", "data type of the classified raster (Byte, UInt16, Int16, UInt32, Int32, Float32, Float64)")
	a.bindFlags(pf, map[string]string{"nodata": "nodata", "data_type": "data-type"})

	for _, name := range []string{"testmodel1", "randomforestndvi"} {
		preset, _ := Surfclass.GetPreset(name)
		cmd.AddCommand(newPresetClassifyCmd(a, preset))
	}
	cmd.AddCommand(newGenericClassifyCmd(a))
	return cmd
}

func newPresetClassifyCmd(a *app, preset Surfclass.Preset) *cobra.Command {
	var cf classifyFlags
	features := make([]string, preset.FeatureCount())
	cmd := &cobra.Command{
		Use:   preset.Name + " -b xmin,ymin,xmax,ymax [feature flags] MODEL OUTDIR",
		Short: preset.Description,
		Long: fmt.Sprintf(`Create a surface classified raster using a set of input features and a trained
RandomForest model (%s).

The input features must match exactly as described and in the correct order.`, preset.Name),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.classify(cmd, preset.Name, features, nil, &cf, args[0], args[1])
		},
	}
	cf.register(cmd)
	for i := range features {
		name := fmt.Sprintf("feature%d", i+1)
		short := ""
		if i < 9 {
			short = strconv.Itoa(i + 1)
		}
		cmd.Flags().StringVarP(&features[i], name, short, "", preset.FeatureHelp[i])
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newGenericClassifyCmd(a *app) *cobra.Command {
	var (
		cf       classifyFlags
		features []string
		names    []string
	)
	cmd := &cobra.Command{
		Use:   "generic -b xmin,ymin,xmax,ymax -f a.tif -f b.tif ... MODEL OUTDIR",
		Short: "Classify with any model, features given in training order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.classify(cmd, "", features, names, &cf, args[0], args[1])
		},
	}
	cf.register(cmd)
	cmd.Flags().StringArrayVarP(&features, "feature", "f", nil, "feature raster, repeat in training order")
	cmd.Flags().StringSliceVar(&names, "name", nil, "optional feature names, checked against the model")
	_ = cmd.MarkFlagRequired("feature")
	return cmd
}

func (a *app) classify(cmd *cobra.Command, preset string, features, names []string, cf *classifyFlags, model, outdir string) error {
	label := preset
	if label == "" {
		label = "generic"
	}
	a.log.Debugf("classification with %s started with arguments: %v, %s, %s, %v, %q, %q",
		label, features, model, outdir, cf.bbox, cf.prefix, cf.postfix)

	opts := []Surfclass.ClassifierOption{
		Surfclass.WithPrefix(cf.prefix),
		Surfclass.WithPostfix(cf.postfix),
		Surfclass.WithTileSize(a.cfg.TileSize),
		Surfclass.WithProcessors(a.cfg.Processors),
		Surfclass.WithNoData(a.cfg.NoData),
		Surfclass.WithDataType(a.cfg.DataType),
		Surfclass.WithOverwrite(cf.overwrite),
	}
	if preset != "" {
		opts = append(opts, Surfclass.WithPreset(preset))
	}
	if len(names) != 0 {
		opts = append(opts, Surfclass.WithFeatureNames(names...))
	}
	if a.ledger != nil {
		opts = append(opts, Surfclass.WithLedger(a.ledger))
	}
	if a.metrics != nil {
		opts = append(opts, Surfclass.WithMetrics(a.metrics))
	}

	classifier := Surfclass.NewRandomForestClassifier(model, features, cf.bbox, outdir, opts...)
	a.log.Debugf("starting classification, run %s", classifier.RunID())
	res, err := classifier.Start(cmd.Context())
	if err != nil {
		return err
	}
	a.log.Infof("classification done, written to: %s", res.OutputPath)
	return nil
}
