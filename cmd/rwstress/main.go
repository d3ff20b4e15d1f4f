// Command rwstress hammers an adaptive reader/writer lock with a mixed
// workload, checks mutual exclusion on every acquisition, and reports
// acquisition latency per mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"text/tabwriter"
	"time"
)

func main() {
	log.SetPrefix("rwstress: ")
	log.SetFlags(0)

	var cfg Config
	var quota uint
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags]

Runs readers and writers against one lock (or -keys locks) for
-duration and prints latency percentiles. Exits 1 if exclusion is
ever violated.

`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&cfg.Readers, "readers", runtime.GOMAXPROCS(0), "run `N` reader goroutines")
	flag.IntVar(&cfg.Writers, "writers", 2, "run `N` writer goroutines")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Second, "run for `duration`")
	flag.UintVar(&quota, "quota", 0, "writer grants before readers are preferred (0 = default)")
	flag.DurationVar(&cfg.Hold, "hold", 0, "hold each lock for `duration`")
	flag.IntVar(&cfg.Keys, "keys", 0, "spread load over `N` keyed locks (0 = single lock)")
	flag.Float64Var(&cfg.TryFraction, "try", 0, "fraction of attempts using the non-blocking path")
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}
	cfg.Quota = uint32(quota)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := Run(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	printReport(os.Stdout, r)
	if r.Violations != 0 {
		log.Printf("%d exclusion violations", r.Violations)
		os.Exit(1)
	}
}

func printReport(w io.Writer, r *Report) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "mode\tops\tmean\tp50\tp99\tmax\t\n")
	fmt.Fprintf(tw, "read\t%d\t%v\t%v\t%v\t%v\t\n", r.ReadOps, r.Read.Mean, r.Read.P50, r.Read.P99, r.Read.Max)
	fmt.Fprintf(tw, "write\t%d\t%v\t%v\t%v\t%v\t\n", r.WriteOps, r.Write.Mean, r.Write.P50, r.Write.P99, r.Write.Max)
	tw.Flush()

	fmt.Fprintf(w, "try failures: %d\n", r.TryFailures)
	if s := r.Lock; s != nil {
		fmt.Fprintf(w, "tickets: %d drawn, %d completed; quota %d; spin estimate %d\n",
			s.WriteRequests, s.WriteCompletions, s.WriteQuota, s.SpinEstimate)
	}
}
