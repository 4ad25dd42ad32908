package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/feedback"
	"github.com/spigell/md-matcher/internal/filtering"
	"github.com/spigell/md-matcher/internal/logger"
	"github.com/spigell/md-matcher/internal/matching"
	"github.com/spigell/md-matcher/internal/selection"
)

const (
	PromptSkip       = "Skip"
	PromptAllMatches = "All listed matches"
)

var ratingItems = []string{PromptSkip, "5 - excellent", "4 - good", "3 - fair", "2 - poor", "1 - unusable"}

var matchCmd = &cobra.Command{
	Use:   "match [provider]",
	Short: "Find medical directors for a provider",
	Long: "Runs the hard eligibility rules, builds a shortlist and asks the model to rank it. " +
		"The provider is an email or a part of the ticket subject; without it an interactive picker is shown.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		match(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("location", string(selection.NearbyAcceptable), "location policy: same_state_only, nearby_acceptable or any_location")
	matchCmd.Flags().String("experience", "", "preferred director experience")
	matchCmd.Flags().String("license", "", "license type the director must supervise")
	matchCmd.Flags().String("age-style", "", "preferred mentoring style by career stage")
	matchCmd.Flags().String("interaction-style", "", "preferred interaction style")
	matchCmd.Flags().String("requirements", "", "free-text requirements used for ranking")
	matchCmd.Flags().Int("cap", 0, "maximum shortlist length (default from selection.cap)")
	matchCmd.Flags().Bool("no-feedback", false, "do not ask for feedback")
	matchCmd.Flags().String("user", "", "name recorded with feedback")
}

// match is the interactive matching command.
func match(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the md-matcher", zap.String("version", version))

	c, err := setup(ctx, config, logger, nil)
	if err != nil {
		logger.Fatal("setting up", zap.Error(err))
	}
	defer c.Close()

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		logger.Fatal("loading the directory", zap.Error(err))
	}

	provider, err := pickProvider(snap, args)
	if err != nil {
		logger.Fatal("choosing a provider", zap.Error(err))
	}

	req := matching.Request{
		Provider: provider,
		Filters:  filtersFromFlags(cmd),
	}
	req.Cap, _ = cmd.Flags().GetInt("cap")

	out, err := c.service.Match(ctx, req)
	if err != nil {
		var noEligible *filtering.NoEligibleError
		if errors.As(err, &noEligible) {
			logger.Info("exiting", zap.String("reason", noEligible.Reason), zap.String("rule", noEligible.Rule))
			return
		}
		logger.Fatal("matching failed", zap.Error(err))
	}

	printOutcome(cmd.OutOrStdout(), out)

	if skip, _ := cmd.Flags().GetBool("no-feedback"); skip || c.sink == nil {
		return
	}

	user, _ := cmd.Flags().GetString("user")
	fb, ok, err := askFeedback(out, user)
	if err != nil {
		logger.Fatal("collecting feedback", zap.Error(err))
	}
	if !ok {
		return
	}

	record := matching.FeedbackRecord(out, fb)
	if err := feedback.Append(ctx, c.sink, record); err != nil {
		logger.Fatal("saving feedback", zap.Error(err))
	}
	logger.Info("feedback saved", zap.String("id", record.ID), zap.String("sink", c.sink.Name()))
}

func filtersFromFlags(cmd *cobra.Command) selection.Filters {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	return selection.Filters{
		LocationPolicy:   selection.ParseLocationPolicy(get("location")),
		Experience:       get("experience"),
		License:          get("license"),
		AgeStyle:         get("age-style"),
		InteractionStyle: get("interaction-style"),
		Requirements:     get("requirements"),
	}
}

func pickProvider(snap *directory.Snapshot, args []string) (*directory.Provider, error) {
	if len(args) > 0 {
		p := snap.FindProvider(args[0])
		if p == nil {
			return nil, fmt.Errorf("%w: %q", matching.ErrProviderNotFound, args[0])
		}
		return p, nil
	}

	if len(snap.Providers) == 0 {
		return nil, errors.New("the directory has no providers waiting for a match")
	}

	labels := make([]string, 0, len(snap.Providers))
	for _, p := range snap.Providers {
		labels = append(labels, p.String())
	}

	providerPrompt := promptui.Select{
		Label: "Choose a provider and press ENTER",
		Items: labels,
		Size:  10,
		Searcher: func(input string, index int) bool {
			return strings.Contains(strings.ToLower(labels[index]), strings.ToLower(strings.TrimSpace(input)))
		},
	}

	i, _, err := providerPrompt.Run()
	if err != nil {
		return nil, err
	}
	return snap.Providers[i], nil
}

func printOutcome(w io.Writer, out *matching.Outcome) {
	p := out.Provider
	fmt.Fprintf(w, "Matches for %s (%s, %s)\n", p.Name, orUnknown(string(p.LicenseType)), orUnknown(p.State))
	if out.Shortlist != nil {
		fmt.Fprintf(w, "Eligible: %d, shortlisted: %d (same state: %d)\n", out.Eligible, len(out.Shortlist.Directors), out.Shortlist.SameState)
		if out.Shortlist.Fallback {
			fmt.Fprintf(w, "Soft filters ignored: %s\n", strings.Join(out.Shortlist.Abandoned, ", "))
		}
	}
	if out.Completion != nil {
		fmt.Fprintf(w, "Model: %s\n", out.Completion.Model)
	}
	fmt.Fprintln(w)

	if out.Result == nil || len(out.Result.Entries) == 0 {
		fmt.Fprintln(w, "The model returned no matches.")
		return
	}

	for i, e := range out.Result.Entries {
		fmt.Fprintf(w, "%2d. %s <%s>  %.1f/10 (%s)\n", i+1, e.Name, e.Email, e.Score, e.Band)
		if e.CapacityStatus != "" {
			fmt.Fprintf(w, "    %s\n", e.CapacityStatus)
		}
		fmt.Fprintf(w, "    %s\n", e.Reasoning)
		if !e.Verified {
			fmt.Fprintf(w, "    warning: %s\n", e.Warning)
		}
	}

	if n := len(out.Result.Dropped); n > 0 {
		fmt.Fprintf(w, "\n%d invalid entries were dropped from the answer.\n", n)
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func askFeedback(out *matching.Outcome, user string) (matching.Feedback, bool, error) {
	ratingPrompt := promptui.Select{
		Label: "Rate these matches",
		Items: ratingItems,
	}
	_, rating, err := ratingPrompt.Run()
	if err != nil {
		return matching.Feedback{}, false, err
	}
	if rating == PromptSkip {
		return matching.Feedback{}, false, nil
	}

	fb := matching.Feedback{User: user}
	fb.Rating, _ = strconv.Atoi(strings.SplitN(rating, " ", 2)[0])

	if out.Result != nil && len(out.Result.Entries) > 0 {
		items := []string{PromptAllMatches}
		for _, e := range out.Result.Entries {
			items = append(items, e.Name)
		}
		pickPrompt := promptui.Select{
			Label: "Which director did you pick?",
			Items: items,
		}
		i, _, err := pickPrompt.Run()
		if err != nil {
			return matching.Feedback{}, false, err
		}
		if i > 0 {
			e := out.Result.Entries[i-1]
			ref := e.Email
			if e.Director != nil {
				ref = e.Director.Key()
			}
			fb.Directors = []string{ref}
		}
	}

	commentsPrompt := promptui.Prompt{Label: "Comments (optional)"}
	fb.Comments, err = commentsPrompt.Run()
	if err != nil {
		return matching.Feedback{}, false, err
	}
	fb.Comments = strings.TrimSpace(fb.Comments)

	return fb, true, nil
}
