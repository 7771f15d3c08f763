// queuectl is the operator CLI for the shared video queue: inspect status
// counts, list videos, requeue failures, and sweep stale claims.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"opendome.systems/pipeline/internal/application"
	"opendome.systems/pipeline/internal/config"
	"opendome.systems/pipeline/internal/db"
	"opendome.systems/pipeline/internal/queue"
	"opendome.systems/pipeline/pkg/utils/format"
)

func main() {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate the legislature video queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		statsCmd(),
		listCmd(),
		requeueCmd(),
		requeueErrorsCmd(),
		reclaimCmd(),
		skipCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withStore loads config, opens the pool, and hands the store to fn.
func withStore(fn func(ctx context.Context, videos *db.VideoStore) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		return err
	}
	defer dbc.Close()

	return fn(ctx, dbc.Videos())
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many videos sit in each status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				counts, err := videos.CountsByStatus(ctx)
				if err != nil {
					return err
				}

				t := newTable()
				t.AppendHeader(table.Row{"Status", "Videos"})
				total := 0
				for _, status := range queue.AllStatuses() {
					t.AppendRow(table.Row{string(status), humanize.Comma(int64(counts[status]))})
					total += counts[status]
				}
				t.AppendFooter(table.Row{"total", humanize.Comma(int64(total))})
				t.Render()
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <status>",
		Short: "List videos in a status, best candidates first",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			status, ok := queue.ParseStatus(args[0])
			if !ok {
				return fmt.Errorf("unknown status %q", args[0])
			}
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				list, err := videos.ListByStatus(ctx, status, limit)
				if err != nil {
					return err
				}

				t := newTable()
				t.AppendHeader(table.Row{"Video ID", "Title", "Chamber", "Year", "Day", "Length", "Claimed By", "Error"})
				for _, v := range list {
					length := ""
					if v.DurationSeconds > 0 {
						length = format.Duration(v.DurationSeconds)
					}
					t.AppendRow(table.Row{
						v.VideoID,
						format.Truncate(v.DisplayTitle(), 40),
						v.Chamber,
						v.SessionYear,
						v.DayNumber,
						length,
						v.ClaimedBy,
						format.Truncate(v.ErrorMessage, 40),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}

func requeueCmd() *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "requeue <video_id>",
		Short: "Send an errored video back for another attempt",
		Long: `Send an errored video back for another attempt.

Without --stage the re-entry point is derived from what the video already
has: a stored transcript means the summarize stage failed, so the video goes
back to transcribed; otherwise it goes back to pending.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				video, err := videos.GetVideo(ctx, args[0])
				if err != nil {
					return err
				}

				stage := queue.StageTranscribe
				if video.Transcript != "" {
					stage = queue.StageSummarize
				}
				if stageName != "" {
					parsed, ok := queue.ParseStage(stageName)
					if !ok {
						return fmt.Errorf("unknown stage %q", stageName)
					}
					stage = parsed
				}

				coord := queue.NewCoordinator(videos)
				if err := coord.Requeue(ctx, video.VideoID, stage); err != nil {
					return err
				}
				fmt.Printf("requeued %s to %s\n", video.VideoID, stage.Available())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "re-entry stage (transcribe or summarize)")
	return cmd
}

func requeueErrorsCmd() *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "requeue-errors",
		Short: "Send every errored video back to a stage's intake",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stage, ok := queue.ParseStage(stageName)
			if !ok {
				return fmt.Errorf("unknown stage %q", stageName)
			}
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				coord := queue.NewCoordinator(videos)
				count, err := coord.RequeueErrors(ctx, stage)
				if err != nil {
					return err
				}
				fmt.Printf("requeued %d videos to %s\n", count, stage.Available())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "transcribe", "re-entry stage (transcribe or summarize)")
	return cmd
}

func reclaimCmd() *cobra.Command {
	var staleHours int
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Free stale claims left by crashed workers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				coord := queue.NewCoordinator(videos,
					queue.WithStaleThreshold(time.Duration(staleHours)*time.Hour))

				for _, stage := range []queue.Stage{queue.StageTranscribe, queue.StageSummarize} {
					count, err := coord.ReclaimStale(ctx, stage)
					if err != nil {
						return err
					}
					fmt.Printf("%s: reclaimed %d\n", stage, count)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&staleHours, "stale-hours", 2, "claim age before it is considered abandoned")
	return cmd
}

func skipCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <video_id>",
		Short: "Permanently exclude an available video by policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, videos *db.VideoStore) error {
				video, err := videos.GetVideo(ctx, args[0])
				if err != nil {
					return err
				}

				var stage queue.Stage
				switch video.Status {
				case queue.StatusPending:
					stage = queue.StageTranscribe
				case queue.StatusTranscribed:
					stage = queue.StageSummarize
				default:
					return fmt.Errorf("video %s is %s; only pending or transcribed videos can be skipped",
						video.VideoID, video.Status)
				}

				coord := queue.NewCoordinator(videos)
				if err := coord.Skip(ctx, stage, video.VideoID, reason); err != nil {
					return err
				}
				fmt.Printf("skipped %s\n", video.VideoID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "excluded by operator", "stored skip reason")
	return cmd
}
