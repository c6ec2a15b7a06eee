package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	quill "github.com/tannerhall/quill"
)

var (
	configPath string
	cfg        *quill.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "RSS/Atom feed reader engine: subscribe, import, refresh, read",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(feedsCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(renameCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(frequencyCmd())
	rootCmd.AddCommand(postsCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(readAllCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(folderCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg = quill.DefaultConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func openEngine() (*quill.Engine, error) {
	engine, err := quill.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s ID: %q", what, arg)
	}
	return id, nil
}

func addCmd() *cobra.Command {
	var folderID int64
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var folder *int64
			if cmd.Flags().Changed("folder") {
				folder = &folderID
			}

			feed, err := engine.AddFeed(context.Background(), args[0], folder)
			if err != nil {
				return err
			}
			fmt.Printf("Subscribed to %q (id %d)\n", feed.Title, feed.ID)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&folderID, "folder", "F", 0, "folder ID to file the feed under")
	return cmd
}

func feedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List subscribed feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			feeds, err := engine.Feeds()
			if err != nil {
				return err
			}
			for _, f := range feeds {
				marker := " "
				if f.HasUnread {
					marker = "*"
				}
				line := fmt.Sprintf("%s %4d  %s", marker, f.ID, f.Title)
				if f.LastFetchError != nil {
					line += fmt.Sprintf("  [error: %s]", *f.LastFetchError)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <feed-id>",
		Short: "Unsubscribe from a feed and delete its posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.DeleteFeed(id); err != nil {
				return err
			}
			fmt.Printf("Removed feed %d\n", id)
			return nil
		},
	}
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <feed-id> <title>",
		Short: "Rename a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.RenameFeed(id, args[1])
		},
	}
}

func moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <feed-id> [folder-id]",
		Short: "Move a feed into a folder, or out of any folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			var folder *int64
			if len(args) == 2 {
				fid, err := parseID(args[1], "folder")
				if err != nil {
					return err
				}
				folder = &fid
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.MoveFeedToFolder(id, folder)
		},
	}
}

func frequencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frequency <feed-id> <minutes>",
		Short: "Set how often a feed is considered due for refresh",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid minutes: %q", args[1])
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.SetFetchFrequency(id, minutes)
		},
	}
}

func postsCmd() *cobra.Command {
	var (
		feedID   int64
		folderID int64
		unread   bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			filter := quill.PostFilter{UnreadOnly: unread, Limit: limit}
			if cmd.Flags().Changed("feed") {
				filter.FeedID = &feedID
			}
			if cmd.Flags().Changed("folder") {
				filter.FolderID = &folderID
			}

			posts, err := engine.Posts(filter)
			if err != nil {
				return err
			}
			for _, p := range posts {
				marker := "*"
				if p.IsRead {
					marker = " "
				}
				date := ""
				if p.PubDate != nil {
					date = p.PubDate.Format("2006-01-02")
				}
				fmt.Printf("%s %5d  %-10s  %s\n", marker, p.ID, date, p.Title)
				if p.Summary != "" {
					fmt.Printf("         %s\n", p.Summary)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&feedID, "feed", "f", 0, "only posts from this feed")
	cmd.Flags().Int64VarP(&folderID, "folder", "F", 0, "only posts from feeds in this folder")
	cmd.Flags().BoolVarP(&unread, "unread", "u", false, "only unread posts")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of posts to show")
	return cmd
}

func contentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "content <post-id>",
		Short: "Print the full stored content of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "post")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			content, err := engine.PostContent(id)
			if err != nil {
				return err
			}
			if content == "" {
				fmt.Fprintln(os.Stderr, "no stored content for this post")
				return nil
			}
			fmt.Println(content)
			return nil
		},
	}
}

func readCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "read <post-id>",
		Short: "Mark a post as read (or unread with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "post")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.MarkPostRead(id, !unread)
		},
	}
	cmd.Flags().BoolVar(&unread, "undo", false, "mark the post unread instead")
	return cmd
}

func readAllCmd() *cobra.Command {
	var (
		feedID   int64
		folderID int64
	)
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every post read, optionally scoped to one feed or one folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var feed, folder *int64
			if cmd.Flags().Changed("feed") {
				feed = &feedID
			}
			if cmd.Flags().Changed("folder") {
				folder = &folderID
			}
			return engine.MarkAllRead(feed, folder)
		},
	}
	cmd.Flags().Int64VarP(&feedID, "feed", "f", 0, "scope to this feed")
	cmd.Flags().Int64VarP(&folderID, "folder", "F", 0, "scope to feeds in this folder")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <opml-file>",
		Short: "Import subscriptions from an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open OPML file: %w", err)
			}
			defer f.Close()

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.ImportOPML(context.Background(), f)
			if err != nil {
				return err
			}

			fmt.Printf("Imported %d, skipped %d, failed %d\n",
				result.Success, result.Skipped, result.Failed)
			if len(result.Errors) > 0 {
				fmt.Fprintln(os.Stderr, strings.Join(result.Errors, "\n"))
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export subscriptions as OPML",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return engine.ExportOPML(out)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func refreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every due feed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Refresh(context.Background(), force)
			if err != nil {
				return err
			}
			fmt.Printf("%d feeds due, %d failed, %d new posts\n",
				result.Due, result.Failed, result.NewPosts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore per-feed frequencies (short threshold still applies)")
	return cmd
}

func folderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage folders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := engine.CreateFolder(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created folder %q (id %d)\n", args[0], id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			folders, err := engine.Folders()
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Printf("%4d  %s\n", f.ID, f.Name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <folder-id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "folder")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.RenameFolder(id, args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <folder-id>",
		Short: "Delete a folder; member feeds become ungrouped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "folder")
			if err != nil {
				return err
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			return engine.DeleteFolder(id)
		},
	})

	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = "./config/config.yaml"
			}

			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}

			data, err := yaml.Marshal(quill.DefaultConfig())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}
