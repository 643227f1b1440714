package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/pkg/browser"
	"github.com/fruitsalade/projectfiles/pkg/client"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/movetarget"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save a server URL and bearer token for later commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if token == "" {
			return errors.New("--token is required")
		}
		server := serverURL
		if server == "" {
			server = "http://localhost:8080"
		}
		if verify, _ := cmd.Flags().GetBool("verify"); verify {
			c := client.New(client.Config{BaseURL: server, AuthToken: token, Timeout: timeout})
			h, err := c.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("server %s is not healthy: %w", server, err)
			}
			fmt.Printf("Server %s is %s (%s store)\n", server, h.State, h.Store)
		}

		expires, _ := cmd.Flags().GetDuration("expires")
		tf := &client.TokenFile{Token: token, Server: server}
		if expires > 0 {
			tf.ExpiresAt = time.Now().Add(expires)
		}
		path := client.TokenFilePath()
		if err := client.SaveToken(path, tf); err != nil {
			return err
		}
		fmt.Printf("Saved token for %s to %s\n", server, path)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.DeleteToken(client.TokenFilePath())
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the children of --dir",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		printPath(b)
		printNodes(b.Nodes())
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print everything below --dir as a tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		all, err := c.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		idx, err := tree.Build(all)
		if err != nil {
			return err
		}
		foldersOnly, _ := cmd.Flags().GetBool("folders")
		var keep func(models.Node) bool
		if foldersOnly {
			keep = func(n models.Node) bool { return n.IsFolder() }
		}
		root, err := idx.BuildFilteredView(dir, keep)
		if err != nil {
			return err
		}
		printView(root)
		fmt.Printf("\n%d nodes\n", tree.CountNodes(root)-1)
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <name>",
	Short: "Create a folder in --dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		n, err := b.CreateFolder(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Rename a node and replace its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		desc, _ := cmd.Flags().GetString("description")
		b, _, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		cur, ok := findListed(b, args[0])
		if !ok {
			return fmt.Errorf("%s is not listed in the folder given by --dir", args[0])
		}
		if !cmd.Flags().Changed("name") {
			name = cur.Name
		}
		if !cmd.Flags().Changed("description") {
			desc = cur.Description
		}
		n, err := b.Edit(cmd.Context(), cur.ID, name, desc)
		if err != nil {
			return err
		}
		printNodes([]models.Node{*n})
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <id>...",
	Short: "Move nodes listed in --dir into the folder given by --to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		return bulk(cmd, args, func(b *browser.Browser) error {
			err := b.Move(cmd.Context(), to)
			if errors.Is(err, movetarget.ErrInvalidTarget) {
				return fmt.Errorf("%q is not a valid destination, see 'treectl targets'", to)
			}
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete nodes listed in --dir with everything below them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulk(cmd, args, func(b *browser.Browser) error {
			return b.Delete(cmd.Context())
		})
	},
}

var accessCmd = &cobra.Command{
	Use:   "access <id>...",
	Short: "Set the access level of nodes listed in --dir and everything below them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("level")
		level, err := models.ParseAccess(raw)
		if err != nil {
			return err
		}
		return bulk(cmd, args, func(b *browser.Browser) error {
			return b.ChangeAccess(cmd.Context(), level)
		})
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets <id>...",
	Short: "Show the folders the given nodes may be moved into",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		if err := selectIDs(b, args); err != nil {
			return err
		}
		targets, err := b.MoveTargets(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range targets.Flatten() {
			line := strings.Repeat("  ", c.Depth) + c.Name
			if c.Disabled {
				line += " (current)"
			}
			fmt.Printf("%-40s %s\n", line, c.ID)
		}
		return nil
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <file-id>",
	Short: "Print a signed download link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetBool("count")
		b, _, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		u, err := b.DownloadURL(cmd.Context(), args[0], count)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags [prefix]",
	Short: "Suggest tags already used in the collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		tags, err := c.SuggestTags(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Println(t)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print --dir again whenever it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var opts []browser.Option
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					logging.Warn("metrics listener stopped", logging.Err(err))
				}
			}()
			defer srv.Close()
			opts = append(opts, browser.WithRecorder(metrics.ClientRecorder{}))
		}
		b, c, err := openBrowser(ctx, opts...)
		if err != nil {
			return err
		}
		printPath(b)
		printNodes(b.Nodes())

		events := c.Events().Subscribe(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if b.Apply(ctx, ev) {
					fmt.Printf("\n[%s] %s %s\n", time.Unix(ev.Timestamp, 0).Format(time.TimeOnly), ev.Type, ev.NodeID)
					printPath(b)
					printNodes(b.Nodes())
				}
			}
		}
	},
}

func init() {
	loginCmd.Flags().Duration("expires", 0, "Token lifetime, for expiry warnings (0: unknown)")
	loginCmd.Flags().Bool("verify", true, "Check the server health before saving")

	treeCmd.Flags().Bool("folders", false, "Leave files out")
	watchCmd.Flags().String("metrics-addr", "", "Serve navigation and bulk-action metrics on this address")

	editCmd.Flags().String("name", "", "New name")
	editCmd.Flags().String("description", "", "New description")

	mvCmd.Flags().String("to", models.RootID, "Destination folder id (default: root)")
	accessCmd.Flags().String("level", "", "public, users, instructors or team")
	accessCmd.MarkFlagRequired("level")

	urlCmd.Flags().Bool("count", false, "Count this as a download")
}

// bulk selects ids in --dir, runs the action and prints the outcome.
func bulk(cmd *cobra.Command, ids []string, run func(*browser.Browser) error) error {
	b, _, err := openBrowser(cmd.Context())
	if err != nil {
		return err
	}
	if err := selectIDs(b, ids); err != nil {
		return err
	}
	err = run(b)
	if rep := b.LastReport(); rep != nil {
		fmt.Printf("%s: %d applied", rep.Action, len(rep.Applied))
		if rep.Failed != "" {
			fmt.Printf(", failed at %s, %d not attempted", rep.Failed, len(rep.Skipped))
		}
		fmt.Println()
	}
	return err
}

func findListed(b *browser.Browser, id string) (models.Node, bool) {
	for _, n := range b.Nodes() {
		if n.ID == id {
			return n, true
		}
	}
	return models.Node{}, false
}

func printPath(b *browser.Browser) {
	var parts []string
	for _, c := range b.Breadcrumbs() {
		name := c.Name
		if c.ID == models.RootID {
			name = ""
		}
		parts = append(parts, name)
	}
	path := strings.Join(parts, "/")
	if path == "" {
		path = "/"
	}
	fmt.Println(path)
}

func printView(root *tree.View) {
	type entry struct {
		v     *tree.View
		depth int
	}
	stack := []entry{{root, 0}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		name := e.v.Name
		switch {
		case e.v.ID == models.RootID:
			name = "/"
		case e.v.IsFolder():
			name += "/"
		}
		line := strings.Repeat("  ", e.depth) + name
		if e.v.ID == models.RootID {
			fmt.Println(line)
		} else {
			fmt.Printf("%-40s %-12s %s\n", line, e.v.Display, e.v.ID)
		}
		for i := len(e.v.Children) - 1; i >= 0; i-- {
			stack = append(stack, entry{e.v.Children[i], e.depth + 1})
		}
	}
}

func printNodes(nodes []models.Node) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tACCESS\tSIZE\tDOWNLOADS")
	for _, n := range nodes {
		size, downloads := "-", "-"
		if n.IsFile() {
			size = fmt.Sprint(n.Size)
			downloads = fmt.Sprint(n.DownloadCount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", n.ID, n.Kind, n.Name, n.Display, size, downloads)
	}
	w.Flush()
}
