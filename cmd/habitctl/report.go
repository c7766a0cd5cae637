package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/reminder"
	"github.com/zhenyuanlu/haybeat/internal/service"
)

// operator is the identity habitctl acts as for read-only reports.
var operator = &internal.User{ID: "habitctl", Name: "habitctl"}

var statsUser string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the statistics of one user's habits",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsUser == "" {
			return errors.New("--user is required")
		}
		cfg, logger, repos, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer repos.Close()
		loc, _ := cfg.Location()
		svc := service.NewStatsService(repos.Habits, repos.Completions, loc, cfg.FirstDayOfWeek, logger)
		stats, err := svc.ForUser(cmd.Context(), &internal.User{ID: statsUser})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, stats)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Habits: %d\n", stats.HabitCount)
		fmt.Fprintf(out, "Overall completion (30d): %d%%\n", stats.OverallCompletion)
		fmt.Fprintf(out, "Consistency: %d (%s)\n", stats.ConsistencyScore, stats.ConsistencyFactors)
		if stats.MostEfficientDay != nil {
			fmt.Fprintf(out, "Most efficient day: %s (%d%%)\n", stats.MostEfficientDay.Day, stats.MostEfficientDay.Percent)
		}
		for _, p := range stats.Trend {
			fmt.Fprintf(out, "Week %d (%s): %.1f%%\n", p.Week, p.Start, p.Percent)
		}
		return nil
	},
}

var leaderboardChallenge string

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the leaderboard of a challenge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if leaderboardChallenge == "" {
			return errors.New("--challenge is required")
		}
		cfg, logger, repos, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer repos.Close()
		loc, _ := cfg.Location()
		svc := service.NewChallengeService(repos.Challenges, repos.Users, loc, logger)
		board, err := svc.Leaderboard(cmd.Context(), operator, leaderboardChallenge)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, board)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tNAME\tPROGRESS\tSTREAK\tBEST")
		for _, e := range board {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", e.Rank, e.Name, e.Progress, e.CurrentStreak, e.LongestStreak)
		}
		return w.Flush()
	},
}

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List the daily reminders the server would schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, repos, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer repos.Close()
		habits, err := repos.Habits.ListHabitsWithReminders(cmd.Context())
		if err != nil {
			return err
		}
		loc, _ := cfg.Location()
		sched := reminder.NewTickerScheduler(reminder.NewLogNotifier(logger), loc, logger)
		sched.Restore(habits)
		list := sched.List()
		if jsonOutput {
			return printJSON(cmd, list)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tHABIT\tUSER")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Time(), r.HabitName, r.UserID)
		}
		return w.Flush()
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsUser, "user", "", "User id")
	leaderboardCmd.Flags().StringVar(&leaderboardChallenge, "challenge", "", "Challenge id")
	rootCmd.AddCommand(statsCmd, leaderboardCmd, remindersCmd)
}
