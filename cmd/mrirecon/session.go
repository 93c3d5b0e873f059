package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mrirecon/pkg/report"
	"mrirecon/pkg/session"
)

const shellPrompt = "mrirecon> "

const shellHelp = `Commands:
  load <path>      Load a grayscale MRI scan
  reconstruct      Reconstruct the loaded scan
  save <path>      Save the reconstruction (format from extension)
  show             Preview the reconstruction
  status           Show the session state
  report           Print a markdown report of the current run
  help             Show this help
  quit             Leave the session`

// NewSessionCmd creates the interactive session command.
func NewSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Start an interactive reconstruction session",
		Long: `Session loads the model once and reads commands from standard input, so that
several scans can be loaded, reconstructed and saved one at a time.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: runSessionCmd,
	}
}

// runSessionCmd executes the session command.
func runSessionCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runShell(ctx, a, a.newSession(), cmd.InOrStdin(), cmd.OutOrStdout())
}

// runShell reads commands from in until quit, end of input or cancellation.
// Failed commands only change the status line; the shell keeps running.
func runShell(ctx context.Context, a *app, sess *session.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, sess.Status())
	fmt.Fprint(out, shellPrompt)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		name, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(name) {
		case "":
		case "load", "open":
			if arg == "" {
				fmt.Fprintln(out, "usage: load <path>")
				break
			}
			_ = sess.SelectInput(arg)
			fmt.Fprintln(out, sess.Status())
		case "reconstruct", "run":
			_ = sess.RequestReconstruction(ctx)
			fmt.Fprintln(out, sess.Status())
			if sess.Err() == nil {
				a.preview(out, sess)
			}
		case "save":
			if arg == "" {
				fmt.Fprintln(out, "usage: save <path>")
				break
			}
			_ = sess.SelectOutput(ctx, arg)
			fmt.Fprintln(out, sess.Status())
		case "show":
			if err := sess.Preview(out, a.cfg.PreviewOptions()); err != nil {
				fmt.Fprintf(out, "Nothing to show: %v\n", err)
			}
		case "status":
			printSessionStatus(out, sess)
		case "report":
			if _, err := report.NewMarkdownWriter(out).Write(sess.Report()); err != nil {
				fmt.Fprintf(out, "Report failed: %v\n", err)
			}
		case "help", "?":
			fmt.Fprintln(out, shellHelp)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q, type help for a list\n", name)
		}

		fmt.Fprint(out, shellPrompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// printSessionStatus prints the state, the affordances and the status line.
func printSessionStatus(out io.Writer, sess *session.Session) {
	fmt.Fprintf(out, "State:       %s\n", sess.State())
	if scan := sess.Scan(); scan != nil {
		w, h := scan.OriginalSize()
		fmt.Fprintf(out, "Scan:        %s (%dx%d)\n", scan.Path, w, h)
	}
	fmt.Fprintf(out, "Reconstruct: %s\n", enabled(sess.CanReconstruct()))
	fmt.Fprintf(out, "Save:        %s\n", enabled(sess.CanSave()))
	fmt.Fprintf(out, "Progress:    %d%%\n", sess.Progress())
	fmt.Fprintf(out, "Status:      %s\n", sess.Status())
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}
