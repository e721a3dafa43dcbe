// Package cli defines the mixify command tree.
package cli

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/config"
)

// configKey annotates flags with the config key they override.
const configKey = "mixify_config_key"

type rootOptions struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "mixify",
		Short:         "Prompt-driven two-track mixing orchestration",
		Long:          `Analyses tracks, resolves mixing prompts through a chain of AI providers and runs staged mixing sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/"+config.ConfigName+".yaml)")
	root.PersistentFlags().Bool("verbose", false, "log every progress event")
	bindFlag(root.PersistentFlags(), "verbose", "verbose")

	root.AddCommand(
		newServeCmd(opts),
		newGatewayCmd(opts),
		newAnalyzeCmd(opts),
		newCompatCmd(opts),
		newResolveCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(stderr io.Writer) int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// bindFlag marks flag name as the override of key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKey, []string{key}); err != nil {
		panic(fmt.Sprintf("cli: annotate flag %s: %v", name, err))
	}
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	v, err := config.New(o.cfgFile)
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Printf("INFO cli: using config file %s", used)
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[configKey]
		if !ok || len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("cli: bind flags: %w", bindErr)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	o.v, o.cfg = v, cfg
	return nil
}
