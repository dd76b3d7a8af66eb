package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pumpdrive/internal/api"
	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/config"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/recommender"
)

// --- recommend ---

// categoryFlags maps CLI flags to profile categories.
var categoryFlags = []struct {
	flag     string
	category profile.Category
}{
	{"cost", profile.Cost},
	{"lifestyle", profile.Lifestyle},
	{"algorithm", profile.Algorithm},
	{"ease-to-start", profile.EaseToStart},
	{"complexity", profile.Complexity},
	{"support", profile.Support},
}

type categoryAnswer struct {
	FreeText       string   `json:"free_text,omitempty"`
	FollowUpText   string   `json:"follow_up_text,omitempty"`
	SelectedTopics []string `json:"selected_topics,omitempty"`
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Get a pump recommendation for a set of answers",
	Long: `Get a pump recommendation for a set of answers.

Answers come from per-category flags or from a JSON file keyed by category.

Examples:
  pumpdrive recommend --lifestyle "very active, swims daily" --cost "great insurance"
  pumpdrive recommend --support "my caregiver follows my numbers" --topics support=remote
  pumpdrive recommend --file answers.json --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		topics, _ := cmd.Flags().GetStringArray("topics")
		asJSON, _ := cmd.Flags().GetBool("json")

		answers, err := collectAnswers(cmd, file, topics)
		if err != nil {
			return err
		}
		if len(answers) == 0 {
			return fmt.Errorf("at least one category answer is required (use --file or a category flag)")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/recommendations", map[string]any{"profile": answers})
		if err != nil {
			return err
		}
		var out recommender.Outcome
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		printRecommendation(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	for _, cf := range categoryFlags {
		recommendCmd.Flags().String(cf.flag, "", fmt.Sprintf("free-text answer for the %s category", cf.category))
	}
	recommendCmd.Flags().String("file", "", "JSON file with answers keyed by category")
	recommendCmd.Flags().StringArray("topics", nil, "selected topics as category=topic1,topic2 (repeatable)")
	recommendCmd.Flags().Bool("json", false, "print the raw JSON response")
}

func collectAnswers(cmd *cobra.Command, file string, topics []string) (map[profile.Category]categoryAnswer, error) {
	answers := make(map[profile.Category]categoryAnswer)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading answers file: %w", err)
		}
		if err := json.Unmarshal(data, &answers); err != nil {
			return nil, fmt.Errorf("parsing answers file: %w", err)
		}
	}

	for _, cf := range categoryFlags {
		text, _ := cmd.Flags().GetString(cf.flag)
		if text == "" {
			continue
		}
		a := answers[cf.category]
		a.FreeText = text
		answers[cf.category] = a
	}

	for _, t := range topics {
		name, list, ok := strings.Cut(t, "=")
		if !ok || list == "" {
			return nil, fmt.Errorf("invalid --topics %q: want category=topic1,topic2", t)
		}
		c := profile.Category(strings.TrimSpace(name))
		if !profile.Known(c) {
			return nil, fmt.Errorf("invalid --topics %q: unknown category %q", t, name)
		}
		a := answers[c]
		for _, topic := range strings.Split(list, ",") {
			if topic = strings.TrimSpace(topic); topic != "" {
				a.SelectedTopics = append(a.SelectedTopics, topic)
			}
		}
		answers[c] = a
	}
	return answers, nil
}

func printRecommendation(w io.Writer, out recommender.Outcome) {
	rec := out.Recommendation
	fmt.Fprintln(w, colorize(colorBold, fmt.Sprintf("Recommended: %s (%d/100)", rec.Overall.Candidate, rec.Overall.Score)))
	if rec.Summary != "" {
		fmt.Fprintln(w, rec.Summary)
	}
	fmt.Fprintln(w)
	for _, c := range rec.Categories {
		printStatus(w, string(c.CategoryLabel), "%s (%d/100)", c.Candidate, c.Score)
	}
	if len(rec.Observations) > 0 {
		fmt.Fprintln(w)
		for _, o := range rec.Observations {
			printStep(w, "%s", o)
		}
	}
	if len(rec.FollowUpQuestions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "To refine this, tell us:")
		for _, q := range rec.FollowUpQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}

	fmt.Fprintln(w)
	switch {
	case out.CacheHit:
		printStatus(w, "Source", "cache (similarity %.2f)", out.Similarity)
	default:
		printStatus(w, "Source", "%s", rec.Source)
	}
	if rec.Fallback {
		printWarning("The recommendation service was unavailable; showing a neutral fallback.")
	}
	if out.Degraded {
		printWarning("The cache store is unavailable; this result was not saved.")
	}
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rate and estimated savings",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/v1/stats"
		if window > 0 {
			path += "?window=" + window.String()
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var st api.StatsResponse
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		w := cmd.OutOrStdout()
		printStatus(w, "Window", "%s", st.Window)
		printStatus(w, "Requests", "%d", st.TotalRequests)
		printStatus(w, "Cache hits", "%d (%.1f%%)", st.CacheHits, st.HitRate*100)
		printStatus(w, "Avg similarity", "%.2f", st.AvgSimilarity)
		printStatus(w, "Avg latency", "%.0f ms", st.AvgLatencyMs)
		printStatus(w, "Estimated cost", "$%.2f", st.EstimatedCost)
		printStatus(w, "Estimated savings", "$%.2f", st.EstimatedSavings)
		printStatus(w, "Cache entries", "%d", st.CacheEntries)
		if st.Queue != nil {
			printStatus(w, "Queue", "%d waiting, %d processed, %d failed, %d timed out",
				st.Queue.Queued, st.Queue.Processed, st.Queue.Failures, st.Queue.Timeouts)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Duration("window", 0, "time window to summarize (default: server setting)")
	statsCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the recommendation cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the most recently used cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/cache/prune"
		if cmd.Flags().Changed("keep") {
			keep, _ := cmd.Flags().GetInt("keep")
			if keep < 0 {
				return fmt.Errorf("--keep must be non-negative")
			}
			path += fmt.Sprintf("?keep=%d", keep)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Pruned %d entries (keeping up to %d)", result["deleted"], result["keep"])
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Int("keep", 0, "number of entries to keep (default: server setting)")
	cacheCmd.AddCommand(cachePruneCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the pumps that can be recommended",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cands := catalog.Default().Candidates()
		if asJSON {
			return printJSON(cmd.OutOrStdout(), cands)
		}
		w := cmd.OutOrStdout()
		for _, c := range cands {
			d := c.Dimensions
			printStatus(w, c.Name, "%s; %s, %s algorithm, %s water resistance, %s control",
				c.Manufacturer, d.Tubing, d.Aggressiveness, d.WaterResistance, d.Interface)
		}
		return nil
	},
}

func init() {
	catalogCmd.Flags().Bool("json", false, "print the catalog as JSON")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		w := cmd.OutOrStdout()
		serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		client := &http.Client{Timeout: 2 * time.Second}

		resp, err := client.Get(serverURL + "/health")
		if err != nil {
			printStatus(w, "Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus(w, "Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus(w, "Server", "error (HTTP %d)", resp.StatusCode)
			}
		}
		printStatus(w, "Strategy", "%s", cfg.Recommender.Strategy)
		if cfg.Recommender.Strategy == config.StrategyGenerate {
			printStatus(w, "Model", "%s", cfg.Generation.Model)
		}
		printStatus(w, "Storage", "%s", cfg.Storage.Driver)
		printStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
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
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
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
