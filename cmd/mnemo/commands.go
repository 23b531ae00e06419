package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/mnemo/internal/config"
	"github.com/kalambet/mnemo/internal/pipeline"
	"github.com/kalambet/mnemo/internal/storage"
)

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store free text in the memory base",
	Long: `Store free text in the memory base. The text is categorized
automatically and appended to the right section of the right file.

Examples:
  mnemo remember "Michael prefers filtered coffee"
  mnemo remember --scope ~/work/mnemo "We decided on SQLite for storage"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		scope, _ := cmd.Flags().GetString("scope")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/remember", map[string]string{
			"text":  text,
			"scope": scope,
		})
		if err != nil {
			return err
		}

		var result struct {
			Filename       string `json:"filename"`
			Section        string `json:"section"`
			Created        bool   `json:"created"`
			SectionCreated bool   `json:"section_created"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		verb := "Appended to"
		if result.Created {
			verb = "Created"
		}
		printSuccess("%s %s (section %q)", verb, result.Filename, result.Section)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("scope", "", "working-directory scope for project-local sections")
}

// --- write ---

var writeCmd = &cobra.Command{
	Use:   "write <filename>",
	Short: "Write a memory file directly with explicit frontmatter",
	Long: `Write a memory file directly with explicit frontmatter and content.
Prints a unified diff when overwriting an existing file.

Examples:
  mnemo write core/persona.md --title "Persona" --category core --file ./persona.md
  mnemo write projects/mnemo.md --title "Mnemo" --category projects --content "## Build Log\n\nStarted."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]
		title, _ := cmd.Flags().GetString("title")
		date, _ := cmd.Flags().GetString("date")
		category, _ := cmd.Flags().GetString("category")
		tagsStr, _ := cmd.Flags().GetString("tags")
		summary, _ := cmd.Flags().GetString("summary")
		content, _ := cmd.Flags().GetString("content")
		file, _ := cmd.Flags().GetString("file")

		if content == "" && file == "" {
			return fmt.Errorf("one of --content or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
		}
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/write", map[string]any{
			"filename":   filename,
			"title":      title,
			"date":       date,
			"categories": []string{category},
			"tags":       tags,
			"summary":    summary,
			"content":    content,
		})
		if err != nil {
			return err
		}

		var result struct {
			Created bool   `json:"created"`
			Diff    string `json:"diff"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Created {
			printSuccess("Created %s", filename)
			return nil
		}
		printSuccess("Updated %s", filename)
		if result.Diff != "" {
			fmt.Println(result.Diff)
		}
		return nil
	},
}

func init() {
	writeCmd.Flags().String("title", "", "document title (required)")
	writeCmd.Flags().String("date", "", "calendar date YYYY-MM-DD (default: today)")
	writeCmd.Flags().String("category", "", "memory category (required)")
	writeCmd.Flags().String("tags", "", "comma-separated tags")
	writeCmd.Flags().String("summary", "", "one-line summary")
	writeCmd.Flags().String("content", "", "markdown body")
	writeCmd.Flags().String("file", "", "read markdown body from file")
	writeCmd.MarkFlagRequired("title")
	writeCmd.MarkFlagRequired("category")
}

// --- read ---

var readCmd = &cobra.Command{
	Use:   "read <filename>",
	Short: "Print a memory file's stored content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/read?filename="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var memory struct {
			Content string `json:"Content"`
		}
		if err := decodeJSON(resp, &memory); err != nil {
			return err
		}
		fmt.Print(memory.Content)
		return nil
	},
}

// --- sections ---

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "List known section headings grouped by file",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sections?scope="+url.QueryEscape(scope))
		if err != nil {
			return err
		}

		var sections []struct {
			FilePath string `json:"FilePath"`
			Title    string `json:"Title"`
			Summary  string `json:"Summary"`
		}
		if err := decodeJSON(resp, &sections); err != nil {
			return err
		}

		if len(sections) == 0 {
			fmt.Println("No sections found.")
			return nil
		}

		lastFile := ""
		for _, sec := range sections {
			if sec.FilePath != lastFile {
				fmt.Println(colorize(colorBold, sec.FilePath))
				lastFile = sec.FilePath
			}
			line := "  " + sec.Title
			if sec.Summary != "" {
				line += " — " + sec.Summary
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	sectionsCmd.Flags().String("scope", "", "filter to global sections plus this scope")
}

// --- changes ---

var changesCmd = &cobra.Command{
	Use:   "changes <filename>",
	Short: "Show version snapshots of a memory file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/changes/%s?limit=%d", args[0], limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var changes []struct {
			ChangedAt time.Time `json:"ChangedAt"`
			Title     string    `json:"Title"`
			Summary   string    `json:"Summary"`
		}
		if err := decodeJSON(resp, &changes); err != nil {
			return err
		}

		if len(changes) == 0 {
			fmt.Println("No recorded changes.")
			return nil
		}
		for _, ch := range changes {
			line := fmt.Sprintf("%s  %s", ch.ChangedAt.Format(time.RFC3339), ch.Title)
			if ch.Summary != "" {
				line += "  " + ch.Summary
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	changesCmd.Flags().Int("limit", 20, "maximum number of snapshots to list")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Total      int `json:"Total"`
			ByCategory []struct {
				Category string `json:"Category"`
				Count    int    `json:"Count"`
			} `json:"ByCategory"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Total memories", "%d", stats.Total)
		for _, c := range stats.ByCategory {
			printStatus(c.Category, "%d", c.Count)
		}
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Delete a memory record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the record for %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/memory?filename="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-ingest every memory file under the root into the store",
	Long:  "Re-ingest every memory file under the root into the store. The database file is backed up first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, pipe, err := localPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := pipe.Sync(cmd.Context())
		if err != nil {
			return err
		}

		printSuccess("Sync complete")
		printStatus("Inserted", "%d", result.Inserted)
		printStatus("Updated", "%d", result.Updated)
		if result.Failed > 0 {
			printWarning("%d file(s) failed to parse, see log", result.Failed)
		}
		return nil
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Regenerate index.md from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, pipe, err := localPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := pipe.Reindex(); err != nil {
			return err
		}
		printSuccess("Index regenerated")
		return nil
	},
}

// localPipeline opens the store directly, without the server. sync and index
// never call the classifier.
func localPipeline() (*storage.Store, *pipeline.Pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, pipeline.New(store, nil, cfg.Memory.RootDir), nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
