// Command feedlint checks a placement feed without driving a run: it
// decodes the feed, resolves every slot's hierarchy, and reports
// remappings and inconsistent slots. Exit status is nonzero when the
// feed is malformed or any slot fails hierarchy validation.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/sagin-domain-engine/core"
	"github.com/signalsfoundry/sagin-domain-engine/internal/sim"
	"github.com/signalsfoundry/sagin-domain-engine/model"
)

type lintConfig struct {
	FeedPath string
	Slot     int
	Verbose  bool
}

func main() {
	var cfg lintConfig
	flag.IntVar(&cfg.Slot, "slot", 0, "check a single slot (0 = the whole feed)")
	flag.BoolVar(&cfg.Verbose, "v", false, "print per-domain membership and remap events")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: feedlint [-slot N] [-v] feed.json")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cfg.FeedPath = flag.Arg(0)

	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "feedlint: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg lintConfig, out io.Writer) error {
	f, err := os.Open(cfg.FeedPath)
	if err != nil {
		return err
	}
	feed, err := core.LoadSlotFeed(f)
	f.Close()
	if err != nil {
		return err
	}

	first, last := 1, feed.TotalSlots()
	if cfg.Slot != 0 {
		if cfg.Slot < 1 || cfg.Slot > feed.TotalSlots() {
			return fmt.Errorf("slot %d outside 1..%d", cfg.Slot, feed.TotalSlots())
		}
		first, last = cfg.Slot, cfg.Slot
	}

	fmt.Fprintf(out, "feed %s: %d catalog nodes, %d slots\n\n", cfg.FeedPath, len(feed.Catalog()), feed.TotalSlots())
	fmt.Fprintf(out, "%4s %6s %8s %11s %7s %6s  %s\n", "slot", "nodes", "domains", "unassigned", "remaps", "rules", "status")

	at := time.Now().UTC()
	var prev *core.Snapshot
	if first > 1 {
		if prev, err = feed.Snapshot(first-1, at); err != nil {
			return err
		}
	}

	var metrics []model.SlotMetrics
	var flagged []int
	for slot := first; slot <= last; slot++ {
		snap, err := feed.Snapshot(slot, at)
		if err != nil {
			return err
		}
		events := core.DetectRemaps(prev, snap)

		m := model.SlotMetrics{
			Slot:      slot,
			Timestamp: at,
			Nodes:     snap.NodeCount(),
			Domains:   snap.DomainCount(),
			Remaps:    len(events),
		}
		status := "ok"
		h, herr := core.ResolveHierarchy(snap)
		if herr != nil {
			m.Inconsistent = true
			m.Detail = herr.Error()
			status = "INCONSISTENT"
			flagged = append(flagged, slot)
		} else {
			directives := core.EmitFlowPolicies(snap, h)
			m.Directives = len(directives)
			for _, d := range directives {
				m.FlowRules += len(d.Rules)
			}
		}

		fmt.Fprintf(out, "%4d %6d %8d %11d %7d %6d  %s\n",
			slot, m.Nodes, m.Domains, len(snap.Unassigned()), m.Remaps, m.FlowRules, status)
		if herr != nil {
			fmt.Fprintf(out, "     ! %v\n", herr)
		}
		if cfg.Verbose {
			printSlotDetail(out, snap, h, events)
		}

		metrics = append(metrics, m)
		prev = snap
	}

	summary := sim.Summarize(metrics)
	fmt.Fprintf(out, "\n%d slot(s) checked: %d remapping(s), peak %d domain(s), %d flow rule(s)\n",
		summary.Slots, summary.TotalRemaps, summary.PeakDomains, summary.TotalFlowRules)

	if len(flagged) > 0 {
		return fmt.Errorf("%d inconsistent slot(s): %v", len(flagged), flagged)
	}
	return nil
}

// printSlotDetail lists each domain's controller and members plus the
// remap events detected against the previous slot. h is nil when the
// slot failed hierarchy validation.
func printSlotDetail(out io.Writer, snap *core.Snapshot, h *model.Hierarchy, events []model.RemapEvent) {
	for _, id := range snap.DomainIDs() {
		d, ok := snap.Domain(id)
		if !ok {
			continue
		}
		master := 0
		if h != nil {
			master = h.MasterFor(id)
		}
		fmt.Fprintf(out, "     domain %d: controller %d, master %d, members %v\n", d.ID, d.ControllerID, master, d.Members)
	}
	for _, ev := range events {
		fmt.Fprintf(out, "     node %d: controller %d -> %d\n", ev.NodeID, ev.PrevController, ev.NewController)
	}
}
