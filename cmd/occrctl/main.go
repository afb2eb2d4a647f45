package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"occrlend/services/lending/client"
)

const (
	defaultEndpoint = "http://127.0.0.1:8088"
	envEndpoint     = "OCCR_ENDPOINT"
	envToken        = "OCCR_TOKEN"
	requestTimeout  = 30 * time.Second
)

type globalFlags struct {
	endpoint string
	token    string
	noColor  bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "occrctl",
		Short:         "Operate and inspect an OCCR lending pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", envOr(envEndpoint, defaultEndpoint), "lending service base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv(envToken), "bearer token for authenticated calls")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newMarketCmd(flags),
		newAccountCmd(flags),
		newAccountsCmd(flags),
		newHistoryCmd(flags),
		newPredicateCmd(flags),
	)
	root.AddCommand(newPositionCmds(flags)...)
	root.AddCommand(
		newAdminCmd(flags),
		newTokenCmd(),
		newKeygenCmd(),
		newInitConfigCmd(),
		newExportCmd(flags),
		newDemoCmd(),
	)
	return root
}

func (f *globalFlags) client() (*client.Client, error) {
	return client.New(f.endpoint, client.WithToken(f.token))
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
