package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sdko-org/swapi-proxy/internal/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	proxyURL string
	timeout  time.Duration
	verbose  bool
	client   *browser.Client
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "browse",
		Short: "Browse SWAPI people and movies through the proxy",
		Long: `browse queries a running SWAPI proxy and prints JSON.

Example usage:
  browse search people sky     # Find people by name
  browse person 1              # Person with their films
  browse movie 1               # Movie with its characters
  browse stats                 # Request time statistics`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				logger.SetLevel(logrus.DebugLevel)
			} else {
				logger.SetLevel(logrus.WarnLevel)
			}
			opts.client = browser.NewClient(context.Background(), logger, opts.proxyURL, opts.timeout)
			return nil
		},
	}

	defaultURL := os.Getenv("SWAPI_PROXY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.proxyURL, "proxy-url", defaultURL, "proxy base URL (env SWAPI_PROXY_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newSearchCmd(opts),
		newPersonCmd(opts),
		newMovieCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

func newSearchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "search <people|movies> <query>",
		Short:     "Search people or movies by name",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"people", "movies"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "people" && args[0] != "movies" {
				return fmt.Errorf("unknown category %q: use people or movies", args[0])
			}
			refs, err := opts.client.Search(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), refs)
		},
	}
}

func newPersonCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "person <id>",
		Short: "Show a person and the films they appear in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := opts.client.PersonWithFilms(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newMovieCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "movie <id>",
		Aliases: []string{"film"},
		Short:   "Show a movie and its characters",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := opts.client.MovieWithCharacters(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show average request time and most popular hour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			avg, err := opts.client.AverageRequestTime(cmd.Context())
			if err != nil {
				return err
			}
			hour, err := opts.client.MostPopularHour(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"average_response_time_ms": avg.AverageResponseTimeMs,
				"most_popular_hour":        hour.MostPopularHour,
				"sample_window":            avg.SampleWindow,
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
