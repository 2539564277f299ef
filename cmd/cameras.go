package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nvr-edge/client"
	"nvr-edge/dto"
)

// Exit codes of the control verbs: 0 success, 1 validation error,
// 2 not found, 3 timeout waiting on a session state change.
const (
	exitValidation = 1
	exitNotFound   = 2
	exitTimeout    = 3
)

func cameraCommands() []*cobra.Command {
	add := &cobra.Command{
		Use:   "add <id> <uri>",
		Short: "register a camera and start recording it",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			c := apiClient(cmd)
			status, err := c.AddCamera(args[0], args[1])
			exitOnError(err)
			fmt.Printf("added %s (health %s)\n", status.Id, status.Health)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "remove a camera and stop its session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(apiClient(cmd).RemoveCamera(args[0]))
			fmt.Printf("removed %s\n", args[0])
		},
	}

	enable := &cobra.Command{
		Use:   "enable <id>",
		Short: "enable recording for a camera",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(apiClient(cmd).SetEnabled(args[0], true))
			fmt.Printf("enabled %s\n", args[0])
		},
	}

	disable := &cobra.Command{
		Use:   "disable <id>",
		Short: "disable recording for a camera without removing it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnError(apiClient(cmd).SetEnabled(args[0], false))
			fmt.Printf("disabled %s\n", args[0])
		},
	}

	status := &cobra.Command{
		Use:   "status [id]",
		Short: "show camera status",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c := apiClient(cmd)
			if len(args) == 1 {
				st, err := c.Status(args[0])
				exitOnError(err)
				printStatuses([]dto.CameraStatus{*st}, false)
				return
			}
			statuses, exhausted, err := c.StatusAll()
			exitOnError(err)
			printStatuses(statuses, exhausted)
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "show per-camera recording totals",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			summaries, err := apiClient(cmd).Summary()
			exitOnError(err)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CAMERA\tSEGMENTS\tBYTES\tOLDEST\tNEWEST")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
					s.CameraId, s.SegmentCount, s.TotalBytes,
					formatTime(s.OldestStart), formatTime(s.NewestStart))
			}
			w.Flush()
		},
	}

	gc := &cobra.Command{
		Use:   "gc-now",
		Short: "force an immediate retention pass",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result, err := apiClient(cmd).ForceGC()
			exitOnError(err)
			fmt.Printf("deleted %d segments, reclaimed %d bytes\n", result.Deleted, result.BytesReclaimed)
			if result.SpaceExhausted {
				fmt.Println("warning: free-space floor still unsatisfied")
			}
		},
	}

	return []*cobra.Command{add, remove, enable, disable, status, summary, gc}
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.New(addr)
}

func printStatuses(statuses []dto.CameraStatus, exhausted bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CAMERA\tENABLED\tHEALTH\tFAILURES\tLAST SEGMENT")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\n",
			s.Id, s.Enabled, s.Health, s.ConsecutiveFailures, formatTime(s.LastSegmentAt))
	}
	w.Flush()
	if exhausted {
		fmt.Println("warning: storage exhausted, retention cannot satisfy free-space floor")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	switch {
	case errors.Is(err, client.ErrNotFound):
		os.Exit(exitNotFound)
	case errors.Is(err, client.ErrTimeout):
		os.Exit(exitTimeout)
	default:
		os.Exit(exitValidation)
	}
}
