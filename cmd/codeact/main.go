package main

import (
	"fmt"
	"os"

	"github.com/go-go-golems/codeact/cmd/codeact/cmds"
	"github.com/go-go-golems/codeact/pkg/doc"
	clay "github.com/go-go-golems/clay/pkg"
	glazedcmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "codeact",
	Short:   "codeact lets a model build React components and checks them in a preview sandbox",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed now, --log-level and co take effect
		return logging.InitLoggerFromViper()
	},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	err := clay.InitViper("codeact", rootCmd)
	cobra.CheckErr(err)
	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")

	helpSystem := help.NewHelpSystem()
	err = doc.AddDocToHelpSystem(helpSystem)
	cobra.CheckErr(err)
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	err = addCommands()
	cobra.CheckErr(err)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCommands() error {
	serveCmd, err := cmds.NewServeCommand(version)
	if err != nil {
		return err
	}
	runCmd, err := cmds.NewRunCommand()
	if err != nil {
		return err
	}
	chatCmd, err := cmds.NewChatCommand()
	if err != nil {
		return err
	}
	previewCmd, err := cmds.NewPreviewCommand()
	if err != nil {
		return err
	}
	modelsCmd, err := cmds.NewModelsCommand()
	if err != nil {
		return err
	}
	transcriptsCmd, err := cmds.NewTranscriptsCommand()
	if err != nil {
		return err
	}

	for _, c := range []glazedcmds.Command{serveCmd, runCmd, chatCmd, previewCmd, modelsCmd, transcriptsCmd} {
		cobraCmd, err := cmds.Build(c)
		if err != nil {
			return err
		}
		rootCmd.AddCommand(cobraCmd)
	}

	rootCmd.AddCommand(cmds.NewSchemaCommand())
	return nil
}
