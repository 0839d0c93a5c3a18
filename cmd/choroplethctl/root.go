package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the defaults shared by the subcommands. Values come from
// .choroplethctl.yaml, CHOROPLETH_* env vars and flags.
type Config struct {
	Classes    int    `mapstructure:"classes"`
	Palette    string `mapstructure:"palette"`
	Method     string `mapstructure:"method"`
	MinMatches int    `mapstructure:"min_matches"`
	MinMargin  int    `mapstructure:"min_margin"`
	BaseURL    string `mapstructure:"catalog_base_url"`
	Pretty     bool   `mapstructure:"pretty"`
}

func loadConfig(v *viper.Viper) Config {
	v.SetDefault("classes", 5)
	v.SetDefault("palette", "Blues")
	v.SetDefault("method", "quantile")
	v.SetDefault("min_matches", 3)
	v.SetDefault("min_margin", 2)
	v.SetDefault("catalog_base_url", "")
	v.SetDefault("pretty", false)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

type cli struct {
	v   *viper.Viper
	cfg Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:           "choroplethctl",
		Short:         "Offline tools for boundary files and classification",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "config file (default .choroplethctl.yaml)")
	root.PersistentFlags().Bool("pretty", false, "indent JSON output")
	_ = c.v.BindPFlag("pretty", root.PersistentFlags().Lookup("pretty"))

	root.AddCommand(
		c.normalizeCmd(),
		c.resolveKeyCmd(),
		c.classifyCmd(),
		c.simplifyCmd(),
		c.catalogCmd(),
		c.invalidateCmd(),
	)
	return root
}

func (c *cli) initConfig(cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
	} else {
		c.v.SetConfigName(".choroplethctl")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(home)
		}
	}
	c.v.SetEnvPrefix("CHOROPLETH")
	c.v.AutomaticEnv()

	// A missing default config file is fine; an explicit one must load.
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	c.cfg = loadConfig(c.v)
	return nil
}

// readInput reads a file argument, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func (c *cli) emit(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if c.cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
