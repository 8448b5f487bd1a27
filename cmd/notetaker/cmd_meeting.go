package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/notetaker/internal/report"
	"github.com/user/notetaker/internal/telegram"
	"github.com/user/notetaker/internal/types"
)

func init() {
	rootCmd.AddCommand(meetingCmd)
	meetingCmd.AddCommand(
		meetingListCmd,
		meetingShowCmd,
		meetingSearchCmd,
		meetingRenameCmd,
		meetingDeleteCmd,
		meetingExportCmd,
		meetingAskCmd,
		meetingProcessCmd,
	)

	meetingExportCmd.Flags().StringP("format", "f", "txt", "report format (json, txt, html, md)")
	meetingExportCmd.Flags().StringP("output", "o", "", "write the report here instead of stdout")
	meetingProcessCmd.Flags().Duration("timeout", 30*time.Minute, "give up waiting after this long")
}

// offlineApp builds the collaborators without an observer hub. Meeting
// commands share the data directory with a running daemon, so writes
// go through the same store locks and tombstones.
func offlineApp() *app {
	cfg := loadConfig()
	setupLogging(cfg)
	a, err := newApp(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

var meetingCmd = &cobra.Command{
	Use:     "meeting",
	Aliases: []string{"meetings"},
	Short:   "Inspect and manage meetings",
}

func printMeetings(meetings []*types.Meeting) error {
	if len(meetings) == 0 {
		fmt.Println("No meetings found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tCREATED")
	for _, m := range meetings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.ID,
			m.Title,
			m.Status,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

var meetingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all meetings, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		meetings, err := a.store.List(context.Background())
		if err != nil {
			return fmt.Errorf("list meetings: %w", err)
		}
		return printMeetings(meetings)
	},
}

var meetingSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles, transcripts and summaries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		meetings, err := a.store.Search(context.Background(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("search meetings: %w", err)
		}
		return printMeetings(meetings)
	},
}

var meetingShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a meeting's summary and transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		m, err := a.store.Get(context.Background(), types.MeetingID(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(telegram.FormatMeeting(m))
		if text := m.FullText(); text != "" {
			fmt.Println()
			fmt.Println("Transcript:")
			fmt.Println(text)
		}
		return nil
	},
}

var meetingRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Change a meeting's title",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		m, err := a.pipeline.Rename(context.Background(), types.MeetingID(args[0]), strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Meeting %s renamed to %q.\n", m.ID, m.Title)
		return nil
	},
}

var meetingDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a meeting and its stored audio and index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		if err := a.pipeline.Delete(context.Background(), types.MeetingID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Meeting %s deleted.\n", args[0])
		return nil
	},
}

var meetingExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Render a meeting report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		format, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		a := offlineApp()
		doc, err := a.exporter.Export(context.Background(), types.MeetingID(args[0]), format)
		if err != nil {
			return err
		}
		if output == "" {
			_, err := os.Stdout.Write(doc.Body)
			return err
		}
		if err := os.WriteFile(output, doc.Body, 0644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Report written to %s.\n", output)
		return nil
	},
}

var meetingAskCmd = &cobra.Command{
	Use:   "ask <id> <question>",
	Short: "Ask a question about a meeting's transcript",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := offlineApp()
		ctx := context.Background()
		id := types.MeetingID(args[0])
		if _, err := a.store.Get(ctx, id); err != nil {
			return err
		}
		answer, err := a.chat.Ask(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	},
}

var meetingProcessCmd = &cobra.Command{
	Use:   "process <audio-file>",
	Short: "Transcribe and analyze a recording without the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a := offlineApp()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		a.pipeline.Start(ctx)
		defer a.pipeline.Stop()

		m, err := a.pipeline.SubmitUpload(ctx, args[0], f)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Processing meeting %s...\n", m.ID)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for !m.Status.Terminal() {
			select {
			case <-ctx.Done():
				a.pipeline.Expire(context.Background(), m.ID, "Pipeline Error: gave up waiting")
				return fmt.Errorf("meeting %s did not finish within %s", m.ID, timeout)
			case <-ticker.C:
			}
			if m, err = a.store.Get(ctx, m.ID); err != nil {
				return err
			}
		}

		fmt.Println(telegram.FormatMeeting(m))
		if m.Status == types.StatusFailed {
			return fmt.Errorf("meeting %s failed", m.ID)
		}
		return nil
	},
}
