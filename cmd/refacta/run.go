package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/monitor"
	"github.com/fyrsmithlabs/refacta/internal/router"
)

type runOptions struct {
	mode       string
	specialist string
	replay     string
	summary    string
	tui        bool
	json       bool
	publish    bool
}

func newRunCmd(opts *appOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run specialists on a request",
		Long: `Run routes the request to specialists (smart mode), sends it to one
named specialist (direct mode), or continues the main conversation (chat
mode). The prompt is read from stdin when it is "-" or omitted.

Examples:
  refacta run "split utils.py into modules"
  refacta run --mode direct --specialist nextjs-refactorer "use the app router"
  echo "tidy imports" | refacta run --json -`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runPrompt(ctx, cmd, a, ro, prompt)
			})
		},
	}

	cmd.Flags().StringVarP(&ro.mode, "mode", "m", "smart", "run mode: smart, direct or chat")
	cmd.Flags().StringVarP(&ro.specialist, "specialist", "s", "", "specialist for direct mode")
	cmd.Flags().StringVar(&ro.replay, "replay", "", "replay a recorded stream-json transcript instead of calling claude")
	cmd.Flags().StringVar(&ro.summary, "summary", "", "summary appended to the ledger after the run")
	cmd.Flags().BoolVar(&ro.tui, "tui", false, "show the live run view")
	cmd.Flags().BoolVar(&ro.json, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&ro.publish, "publish", false, "publish run updates to NATS")
	return cmd
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	prompt := strings.Join(args, " ")
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading prompt: %w", err)
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	return prompt, nil
}

func runPrompt(ctx context.Context, cmd *cobra.Command, a *app, ro *runOptions, prompt string) error {
	if err := a.useSession(ctx, ro.replay, ro.publish); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	var (
		run     *engine.Run
		planned []string
		err     error
	)
	switch ro.mode {
	case "smart", "":
		var d router.Decision
		d, run, err = a.session.Smart(ctx, prompt)
		if err == nil {
			planned = d.Names
			fmt.Fprintf(errOut, "→ %s (%s)\n", strings.Join(d.Names, ", "), describeDecision(d))
		}
	case "direct":
		if ro.specialist == "" {
			return fmt.Errorf("--specialist is required in direct mode")
		}
		planned = []string{ro.specialist}
		run, err = a.session.Direct(ctx, ro.specialist, prompt)
	case "chat":
		planned = []string{a.cfg.Router.DefaultSpecialist}
		run, err = a.session.Chat(ctx, prompt)
	default:
		return fmt.Errorf("unknown mode %q", ro.mode)
	}
	if err != nil {
		return err
	}

	var res engine.Result
	if ro.tui && !ro.json {
		res, err = watchRun(ctx, run, planned)
		if err != nil {
			return err
		}
	} else {
		res = followRun(run, errOut, !ro.json)
	}

	if ro.summary != "" {
		if err := a.session.AddSummary(ro.summary); err != nil {
			return fmt.Errorf("adding summary: %w", err)
		}
	}
	ledgerPath, err := a.session.Close(ctx)
	if err != nil {
		return err
	}

	if ro.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res, ledgerPath)
	}

	if !res.Accepted {
		return fmt.Errorf("run %s: %s", res.Outcome, firstNonEmpty(res.Error, "not accepted"))
	}
	return nil
}

func describeDecision(d router.Decision) string {
	if d.Reason == "" {
		return d.Source
	}
	return d.Source + ": " + d.Reason
}

// followRun drains run, reporting progress on w when verbose.
func followRun(run *engine.Run, w io.Writer, verbose bool) engine.Result {
	for u := range run.Updates() {
		if !verbose {
			continue
		}
		switch u.Kind {
		case engine.UpdateSpecialistStart:
			fmt.Fprintf(w, "● %s started\n", u.Specialist)
		case engine.UpdateEdit:
			fmt.Fprintf(w, "  ✎ %s\n", u.Edit.FilePath)
		case engine.UpdateSpecialistDone:
			if u.Run != nil {
				fmt.Fprintf(w, "● %s %s\n", u.Specialist, u.Run.Outcome)
			}
		}
	}
	return run.Wait()
}

// watchRun shows the live view. Leaving the view early keeps the run going
// and waits for it to finish.
func watchRun(ctx context.Context, run *engine.Run, planned []string) (engine.Result, error) {
	m, err := monitor.Watch(ctx, run, planned)
	if err != nil {
		return engine.Result{}, err
	}
	if res := m.Result(); res != nil {
		return *res, nil
	}
	for range run.Updates() {
	}
	return run.Wait(), nil
}

func printResult(w io.Writer, res engine.Result, ledgerPath string) {
	if text := strings.TrimSpace(res.Text); text != "" {
		if rendered, err := monitor.RenderMarkdown(text, terminalWidth()); err == nil {
			fmt.Fprintln(w, strings.TrimRight(rendered, "\n"))
		} else {
			fmt.Fprintln(w, text)
		}
	}
	fmt.Fprintf(w, "Outcome: %s · %s tokens · %s · %d edits\n",
		res.Outcome,
		monitor.FormatTokens(res.TotalTokens),
		monitor.FormatCost(res.CostUSD),
		len(res.Edits))
	fmt.Fprintf(w, "Ledger: %s\n", ledgerPath)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
