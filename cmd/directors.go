package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/filtering"
	"github.com/spigell/md-matcher/internal/logger"
)

var directorsCmd = &cobra.Command{
	Use:   "directors",
	Short: "Print the directors accepting new providers",
	Run: func(cmd *cobra.Command, _ []string) {
		directors(cmd)
	},
}

func init() {
	rootCmd.AddCommand(directorsCmd)

	directorsCmd.Flags().String("state", "", "only directors residing or licensed in this state")
}

func directors(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	store, closer, err := newStore(ctx, config.Directory, logger)
	if err != nil {
		logger.Fatal("building the directory", zap.Error(err))
	}
	defer closer()

	snap, err := store.Snapshot(ctx)
	if err != nil {
		logger.Fatal("loading the directory", zap.Error(err))
	}

	// do not bother error since statuses are plain structs
	pretty, _ := json.MarshalIndent(filtering.Describe(filtering.DefaultSteps()), "", "  ")
	logger.Debug(fmt.Sprintf("hard rules: \n %s", pretty))

	state, _ := cmd.Flags().GetString("state")
	list := snap.Directors
	if state = strings.TrimSpace(state); state != "" {
		list = make([]*directory.MedicalDirector, 0, len(snap.Directors))
		for _, d := range snap.Directors {
			if d.InState(state) {
				list = append(list, d)
			}
		}
	}

	printDirectors(cmd.OutOrStdout(), list)
	logger.Info("directory",
		zap.String("source", snap.Source),
		zap.Int("listed", len(list)),
		zap.Int("open", len(snap.Directors)),
		zap.Int("closed", len(snap.Closed)),
		zap.Int("providers", len(snap.Providers)),
	)
}

func printDirectors(w io.Writer, list []*directory.MedicalDirector) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tEMAIL\tSTATES\tSTATUS\tCAPACITY")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.Name,
			d.Email,
			strings.Join(d.States(), ","),
			d.AcceptingStatus,
			d.CapacityStatus(),
		)
	}
	tw.Flush()
}
