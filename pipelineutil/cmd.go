/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

// Package pipelineutil wires the flood pipeline to its configuration,
// storage, and command line.
package pipelineutil

import (
	"context"
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rodekruis/IBF-river-flood-pipeline"
	"github.com/rodekruis/IBF-river-flood-pipeline/ibf"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to the pipeline.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "date",
			usage: `
              date specifies the model run date to process, in YYYYMMDD
              format. The default is today's date in UTC.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "blob-bucket",
			usage: `
              blob-bucket specifies the storage bucket holding the raw
              forecast files, flood maps, boundaries, thresholds, and
              population raster, in the format 'provider://name' where
              provider is one of file, gs, or s3.`,
			defaultVal: "file://flood-data",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "work-dir",
			usage: `
              work-dir specifies the directory for per-run sliced
              forecast files.`,
			defaultVal: "work",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "cache-dir",
			usage: `
              cache-dir specifies a directory for caching decoded flood
              maps between runs. Caching is disabled when empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ibf-url",
			usage: `
              ibf-url specifies the base URL of the IBF dashboard API
              that results are published to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ibf-email",
			usage: `
              ibf-email specifies the login email for the IBF API. It is
              usually set through the FLOODPIPELINE_IBF_EMAIL environment
              variable.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ibf-password",
			usage: `
              ibf-password specifies the login password for the IBF API.
              It is usually set through the FLOODPIPELINE_IBF_PASSWORD
              environment variable.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("FLOODPIPELINE")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("floodpipeline: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "floodpipeline",
	Short: "A river-flood early-warning pipeline.",
	Long: `floodpipeline ingests global ensemble river-discharge forecasts,
derives per-admin-area and per-station flood likelihoods, classifies
trigger and alert states, builds flood-extent rasters and population
exposure, and publishes the results to an IBF dashboard.

Per-country policies are read from the 'countries' section of the
configuration file (provide its path with the --config flag); other
settings can be given as command-line arguments or as environment
variables in the format 'FLOODPIPELINE_var' where 'var' is the name of
the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of the pipeline.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("floodpipeline v%s\n", floodpipeline.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for all configured countries.",
	Long: `run executes one pipeline run: it processes every country in the
configuration for the given model run date and publishes the results.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		date, err := runDate(Cfg.GetString("date"))
		if err != nil {
			return err
		}
		countries, err := Countries(Cfg)
		if err != nil {
			return err
		}
		store, err := NewBucketStore(ctx, Cfg.GetString("blob-bucket"))
		if err != nil {
			return err
		}
		client := ibf.NewClient(Cfg.GetString("ibf-url"),
			Cfg.GetString("ibf-email"), Cfg.GetString("ibf-password"))
		p := &floodpipeline.Pipeline{
			Countries: countries,
			Source:    NewGloFASSource(store),
			Store:     store,
			Static:    NewBlobStaticData(store),
			Publisher: ibf.NewPublisher(client),
			WorkDir:   Cfg.GetString("work-dir"),
			CacheDir:  Cfg.GetString("cache-dir"),
			Log:       logrus.StandardLogger(),
		}
		return p.Run(ctx, date)
	},
	DisableAutoGenTag: true,
}

// runDate parses the run date option, defaulting to today in UTC.
func runDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	date, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("floodpipeline: invalid date %q: %v", s, err)
	}
	return date, nil
}
