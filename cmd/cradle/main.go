// cmd/cradle/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"Cradle-storage/internal/config"
	"Cradle-storage/internal/cradle"
	"Cradle-storage/internal/logging"
	"Cradle-storage/pkg/api"
)

func main() {
	var (
		configPath string
		servers    string
	)

	rootCmd := &cobra.Command{
		Use:          "cradle",
		Short:        "Paged storage for session messages and test events",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&servers, "server", "localhost:8080", "comma-separated server addresses for client commands")

	client := func() *api.Client {
		cfg := api.DefaultClientConfig()
		cfg.Addresses = strings.Split(servers, ",")
		return api.NewClient(cfg)
	}

	rootCmd.AddCommand(
		serveCommand(&configPath),
		booksCommand(client),
		addBookCommand(client),
		switchPageCommand(client),
		followCommand(client),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the storage and serve the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(*configPath)
		},
	}
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	log := logging.New(cfg.Logging, os.Stderr)

	storage, err := cradle.Open(cfg, log)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Requests.Timeout*10)
	err = storage.Init(ctx)
	cancel()
	if err != nil {
		storage.Dispose()
		return errors.Wrap(err, "failed to initialize storage")
	}

	server := NewServer(storage, cfg, log)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		server.gracefulShutdown()
	}()

	log.Info("cradle starting", "instance", cfg.Instance, "backend", cfg.Backend, "data_dir", cfg.DataDir)
	return server.Serve()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func booksCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "books [name]",
		Short: "List books, or show one book with its pages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				b, err := client().Book(cmd.Context(), args[0])
				if err != nil {
					return errors.Wrapf(err, "failed to read book %s", args[0])
				}
				return printJSON(b)
			}
			books, err := client().Books(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "failed to list books")
			}
			return printJSON(books)
		},
	}
}

func addBookCommand(client func() *api.Client) *cobra.Command {
	req := &api.AddBookRequest{}
	cmd := &cobra.Command{
		Use:   "add-book <name>",
		Short: "Create a book with its first page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			b, err := client().AddBook(cmd.Context(), req)
			if err != nil {
				return errors.Wrap(err, "failed to add book")
			}
			return printJSON(b)
		},
	}
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "full name of the book")
	cmd.Flags().StringVar(&req.Description, "description", "", "description of the book")
	cmd.Flags().StringVar(&req.FirstPageName, "first-page", "", "name of the first page (random when empty)")
	cmd.Flags().StringVar(&req.FirstPageComment, "first-page-comment", "", "comment of the first page")
	return cmd
}

func switchPageCommand(client func() *api.Client) *cobra.Command {
	var (
		comment string
		start   string
	)
	cmd := &cobra.Command{
		Use:   "switch-page <book> <page>",
		Short: "Close the active page of a book and open a new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.SwitchPageRequest{Name: args[1], Comment: comment}
			if start != "" {
				t, err := time.Parse(time.RFC3339Nano, start)
				if err != nil {
					return errors.Wrap(err, "invalid start time")
				}
				req.Start = t
			}
			b, err := client().SwitchPage(cmd.Context(), args[0], req)
			if err != nil {
				return errors.Wrap(err, "failed to switch page")
			}
			return printJSON(b)
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment of the new page")
	cmd.Flags().StringVar(&start, "start", "", "start of the new page in RFC 3339 (now when empty)")
	return cmd
}

func followCommand(client func() *api.Client) *cobra.Command {
	var (
		direction string
		after     int64
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "follow <book> <session>",
		Short: "Print messages of a session stream as they are stored",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f := api.NewFollower(client(), api.FollowerConfig{
				Book:          args[0],
				SessionAlias:  args[1],
				Direction:     direction,
				PollInterval:  interval,
				StartSequence: after,
			})
			err := f.Start(ctx, func(messages []api.Message) error {
				for _, m := range messages {
					fmt.Printf("%s\t%d\t%s\t%s\n", m.Timestamp.Format(time.RFC3339Nano), m.Sequence, m.Direction, m.Content)
				}
				return nil
			}, func(err error) {
				fmt.Fprintln(os.Stderr, "poll error:", err)
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			f.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "FIRST", "stream direction: FIRST or SECOND")
	cmd.Flags().Int64Var(&after, "after", -1, "print messages with a greater sequence")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "wait between empty polls")
	return cmd
}
