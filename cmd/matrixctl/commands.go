package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/connection-matrix/core"
	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/internal/session"
	"github.com/signalsfoundry/connection-matrix/kb"
	"github.com/signalsfoundry/connection-matrix/model"
)

type rootOptions struct {
	scenarioPath string
	logLevel     string
	transposed   bool
	noSummaries  bool
	color        string // auto | always | never
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "matrixctl",
		Short:         "Inspect AVDECC connection matrices built from scenario files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.scenarioPath, "scenario", "s", "configs/scenario.json", "scenario JSON file")
	flags.StringVar(&opts.logLevel, "log-level", "error", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.transposed, "transposed", false, "present listeners as rows")
	flags.BoolVar(&opts.noSummaries, "no-summary-cells", false, "leave entity and redundant summary cells inert")
	flags.StringVar(&opts.color, "color", "auto", "colorize output (auto, always, never)")

	root.AddCommand(newDumpCmd(opts), newReplayCmd(opts), newClassifyCmd(opts))
	return root
}

// matrix is a scenario loaded into a KB with a model applying KB events
// synchronously on the caller's goroutine.
type matrix struct {
	store    *kb.KnowledgeBase
	model    *core.Model
	scenario *kb.Scenario
	cells    *cellCounter
	stop     func()
}

type cellCounter struct {
	core.NopObserver
	changed int
}

func (c *cellCounter) CellChanged(int, int) { c.changed++ }

func (o *rootOptions) load(cmd *cobra.Command) (*matrix, error) {
	log := logging.New(logging.Config{Level: o.logLevel, Output: cmd.ErrOrStderr()})
	counter := &cellCounter{}
	store := kb.NewKnowledgeBase()
	m := core.NewModel(store,
		core.WithLogger(log),
		core.WithObserver(counter),
		core.WithSummaryCells(!o.noSummaries),
	)
	m.SetTransposed(o.transposed)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	unsubscribe := store.Subscribe(func(ev kb.Event) {
		evCtx, _ := logging.EnsureEventID(ctx)
		session.Apply(evCtx, m, ev)
	})

	f, err := os.Open(o.scenarioPath)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	sc, err := kb.LoadScenario(store, f)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	return &matrix{store: store, model: m, scenario: sc, cells: counter, stop: unsubscribe}, nil
}

func (o *rootOptions) colorize(w io.Writer) bool {
	switch o.color {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// viewOptions narrow which sections dump draws.
type viewOptions struct {
	filter   string
	collapse bool
	expand   []string
}

func (v viewOptions) active() bool {
	return v.filter != "" || v.collapse || len(v.expand) > 0
}

// sectionView applies v to fresh section states over m. Everything starts
// expanded, so without --collapse only the filter hides sections.
func (v viewOptions) sectionView(m *core.Model) (shown, error) {
	if !v.active() {
		return nil, nil
	}
	sides := []model.Side{model.Talker, model.Listener}
	states := core.NewSectionStates(m)
	for _, side := range sides {
		if v.collapse {
			states.CollapseAll(side)
		} else {
			states.ExpandAll(side)
		}
	}
	for _, name := range v.expand {
		found := false
		for _, side := range sides {
			for _, id := range m.Entities(side) {
				section, ok := entitySection(m, side, id)
				if !ok || m.Node(side, section).Name() != name {
					continue
				}
				found = true
				if !states.State(side, section).Expanded {
					states.Toggle(side, section)
				}
			}
		}
		if !found {
			return nil, fmt.Errorf("--expand: no entity named %q", name)
		}
	}
	if v.filter != "" {
		re, err := regexp.Compile(v.filter)
		if err != nil {
			return nil, fmt.Errorf("--filter: %w", err)
		}
		states.SetFilter(re)
	}
	return states.Visible, nil
}

func entitySection(m *core.Model, side model.Side, id model.EntityID) (int, bool) {
	if side == model.Talker {
		return m.TalkerSection(id)
	}
	return m.ListenerSection(id)
}

func newDumpCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	var view viewOptions
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Load the scenario and print the resulting matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			mx, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer mx.stop()

			snap := mx.model.Snapshot()
			out := cmd.OutOrStdout()
			if asJSON {
				st, err := snap.ToStruct()
				if err != nil {
					return err
				}
				body, err := protojson.MarshalOptions{Multiline: true}.Marshal(st)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(body))
				return err
			}
			show, err := view.sectionView(mx.model)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, renderMatrix(snap, cellGlyph, opts.colorize(out), show))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, legend)
			return err
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&asJSON, "json", false, "print the snapshot as JSON (view flags do not apply)")
	flags.StringVar(&view.filter, "filter", "", "only draw entities whose name matches this regular expression")
	flags.BoolVar(&view.collapse, "collapse", false, "draw entity summary rows and columns only")
	flags.StringArrayVar(&view.expand, "expand", nil, "expand the named entity (repeatable)")
	return cmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var final bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply the scenario timeline step by step and report what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			mx, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer mx.stop()

			out := cmd.OutOrStdout()
			for _, step := range mx.scenario.Timeline {
				mx.cells.changed = 0
				if err := step.Apply(mx.store); err != nil {
					fmt.Fprintf(out, "%8s  %-18s error: %v\n", step.At, step.Action, err)
					continue
				}
				fmt.Fprintf(out, "%8s  %-18s %3d cells changed  (%d x %d)\n",
					step.At, step.Action, mx.cells.changed,
					mx.model.TalkerSectionCount(), mx.model.ListenerSectionCount())
			}
			if final {
				fmt.Fprintln(out, renderMatrix(mx.model.Snapshot(), cellGlyph, opts.colorize(out), nil))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&final, "final", false, "print the matrix after the last step")
	return cmd
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Print the intersection type of every cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			mx, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer mx.stop()

			out := cmd.OutOrStdout()
			_, err = fmt.Fprintln(out, renderMatrix(mx.model.Snapshot(), typeGlyph, opts.colorize(out), nil))
			if err != nil {
				return err
			}
			for _, t := range allTypes {
				fmt.Fprintf(out, "  %-3s %s\n", typeAbbrev[t], t)
			}
			return nil
		},
	}
}
