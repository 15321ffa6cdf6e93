package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaozhch5/openclaw/pkg/runner"
)

var runFlags struct {
	sessionID  string
	sessionKey string
	provider   string
	model      string
	timeoutMs  int
	verbose    bool
	showLive   bool
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Execute a single agent run",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.sessionID, "session-id", "", "session identifier (generated when empty)")
	runCmd.Flags().StringVar(&runFlags.sessionKey, "session-key", "", "session lane key")
	runCmd.Flags().StringVar(&runFlags.provider, "provider", "", "model provider override")
	runCmd.Flags().StringVar(&runFlags.model, "model", "", "model override")
	runCmd.Flags().IntVar(&runFlags.timeoutMs, "timeout-ms", 0, "run timeout override in milliseconds")
	runCmd.Flags().BoolVar(&runFlags.verbose, "verbose", false, "include tool results in the reply")
	runCmd.Flags().BoolVar(&runFlags.showLive, "live", false, "print partial text while streaming")
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	params := runner.RunParams{
		SessionID:  runFlags.sessionID,
		SessionKey: runFlags.sessionKey,
		Prompt:     strings.Join(args, " "),
		Provider:   runFlags.provider,
		Model:      runFlags.model,
		TimeoutMs:  runFlags.timeoutMs,
		Verbose:    runFlags.verbose,
	}

	if runFlags.showLive {
		params.Observers.OnPartialReply = func(text string) {
			fmt.Fprintf(os.Stderr, "\r%s", text)
		}
	}

	payload, err := a.runner.Run(context.Background(), params)
	if err != nil {
		return err
	}
	if runFlags.showLive {
		fmt.Fprintln(os.Stderr)
	}

	for _, item := range payload.Items {
		if item.Text != "" {
			fmt.Println(item.Text)
		}
		for _, url := range mediaOf(item) {
			fmt.Printf("[media] %s\n", url)
		}
	}

	if payload.Aborted {
		fmt.Fprintln(os.Stderr, "run aborted")
	}
	return nil
}

func mediaOf(item runner.ReplyItem) []string {
	if len(item.MediaURLs) > 0 {
		return item.MediaURLs
	}
	if item.MediaURL != "" {
		return []string{item.MediaURL}
	}
	return nil
}
