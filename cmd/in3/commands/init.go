package commands

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/log"
)

// MakeInitCommand constructs a command that writes a default config file to
// the home directory.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the home directory with a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFile(conf.RootDir)
			if _, err := os.Stat(path); err == nil {
				logger.Info("Found config file", "path", path)
				return nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.EnsureRoot(conf.RootDir); err != nil {
				return err
			}
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			logger.Info("Generated config file", "path", path)
			return nil
		},
	}
}
