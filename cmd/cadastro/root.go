package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideamans/go-cadastro/internal/app"
)

// cli carries the configuration shared by every subcommand.
type cli struct {
	tab       string
	excelFile string
	cachePath string

	config *app.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "cadastro",
		Short:         "Manage registration records kept in a Google spreadsheet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.tab, "tab", "", "data tab (env CADASTRO_TAB)")
	flags.StringVar(&c.excelFile, "excel", "", "use a local xlsx workbook instead of Google (env CADASTRO_EXCEL_FILE)")
	flags.StringVar(&c.cachePath, "cache", "", "local cache database (env CADASTRO_CACHE_PATH)")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.listCmd(),
		c.getCmd(),
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.refreshCmd(),
		c.imageCmd(),
		c.cacheCmd(),
	)
	return root
}

// loadConfig reads the environment, then applies the flags on top.
func (c *cli) loadConfig() error {
	config, err := app.ReadConfig()
	if err != nil {
		return err
	}
	if c.excelFile != "" {
		config.ExcelFile = c.excelFile
	}
	if c.tab != "" {
		config.Tab = c.tab
	}
	if c.cachePath != "" {
		config.CachePath = c.cachePath
	}
	if err := config.Validate(); err != nil {
		return err
	}
	c.config = config
	return nil
}

// open builds the runtime for one command. Interactive sign-in prints the
// consent URL on stderr.
func (c *cli) open(cmd *cobra.Command) (*app.Runtime, error) {
	return app.Open(cmd.Context(), c.config, app.Options{
		OpenBrowser: func(authURL string) error {
			_, err := fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
			return err
		},
	})
}

// run opens the runtime, calls fn and always closes the runtime.
func (c *cli) run(cmd *cobra.Command, fn func(rt *app.Runtime) error) (err error) {
	rt, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
