// treectl browses and edits a project's files or materials tree from the
// command line.
//
// Commands that act on nodes take their ids relative to --dir, the folder
// the nodes are listed in, the same way a checkbox selection works in a
// listing:
//
//	treectl login --server http://localhost:8080 --token <jwt>
//	treectl ls --project p1 --dir <folder-id>
//	treectl tree --project p1 --folders
//	treectl mv --project p1 --dir <folder-id> --to <target-id> <id>...
//	treectl access --project p1 --level team <id>...
//	treectl watch --project p1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/pkg/browser"
	"github.com/fruitsalade/projectfiles/pkg/client"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

var (
	serverURL  string
	projectID  string
	collection string
	token      string
	dir        string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "treectl",
	Short:         "Browse and edit project resource trees",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", envOr("PROJECTFILES_SERVER", ""), "Server URL (default: saved login, then http://localhost:8080)")
	pf.StringVarP(&projectID, "project", "p", os.Getenv("PROJECTFILES_PROJECT"), "Project id")
	pf.StringVarP(&collection, "collection", "c", string(models.CollectionFiles), "Collection: files or materials")
	pf.StringVar(&token, "token", os.Getenv("PROJECTFILES_TOKEN"), "Bearer token (default: saved login)")
	pf.StringVarP(&dir, "dir", "d", models.RootID, "Folder id the command works in (default: root)")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "Per-request timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		loginCmd, logoutCmd,
		lsCmd, treeCmd, mkdirCmd, editCmd,
		mvCmd, rmCmd, accessCmd, targetsCmd,
		urlCmd, tagsCmd, watchCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newClient resolves server and token from flags, then the saved login.
func newClient() (*client.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("--project is required")
	}
	kind := models.CollectionKind(collection)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	server, tok := serverURL, token
	if tf, err := client.LoadToken(client.TokenFilePath()); err == nil {
		if server == "" {
			server = tf.Server
		}
		if tok == "" {
			if tf.IsExpired(0) {
				return nil, fmt.Errorf("saved token has expired, run 'treectl login'")
			}
			tok = tf.Token
		}
	}
	if server == "" {
		server = "http://localhost:8080"
	}
	if tok == "" {
		return nil, fmt.Errorf("no token available, use --token, PROJECTFILES_TOKEN or 'treectl login'")
	}

	return client.New(client.Config{
		BaseURL:    server,
		ProjectID:  projectID,
		Collection: kind,
		Timeout:    timeout,
		AuthToken:  tok,
	}), nil
}

// openBrowser returns a browser displaying --dir. Failures are returned,
// not logged, so the error handler stays quiet.
func openBrowser(ctx context.Context, opts ...browser.Option) (*browser.Browser, *client.Client, error) {
	c, err := newClient()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]browser.Option{browser.WithErrorHandler(func(err error) {
		logging.Debug("request failed", logging.Err(err))
	})}, opts...)
	b := browser.New(c, opts...)
	if err := b.Open(ctx, dir); err != nil {
		return nil, nil, err
	}
	return b, c, nil
}

// selectIDs checks each id in the displayed listing.
func selectIDs(b *browser.Browser, ids []string) error {
	for _, id := range ids {
		if b.IsChecked(id) {
			continue
		}
		b.Toggle(id)
		if !b.IsChecked(id) {
			return fmt.Errorf("%s is not listed in the folder given by --dir", id)
		}
	}
	return nil
}
