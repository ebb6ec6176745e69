package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/glintlib/glint"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

const (
	itersKey   = "iters"
	profileKey = "profile"
)

func main() {
	cmd := &cli.Command{
		Name:  "benchmark",
		Usage: "Measure glint propagation latency over chain grids",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  itersKey,
				Usage: "Timed writes per grid shape",
				Value: 100,
			},
			&cli.StringFlag{
				Name:  profileKey,
				Usage: "Write a CPU profile to this file",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	ww = []int{1, 10, 100, 1_000}
	hh = []int{1, 10, 100, 1_000}
)

func addOne(v int) int {
	return v + 1
}

func run(ctx context.Context, cmd *cli.Command) error {
	if path := cmd.String(profileKey); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	log.Print("warming up")
	benchmarkPropagation(int(cmd.Int(itersKey)))
	return nil
}

// benchmarkPropagation builds w independent chains of h derived cells
// hanging off one source, subscribes at every chain tail, then times
// iters writes through the whole grid.
func benchmarkPropagation(iters int) {
	tbl := table.NewWriter()
	tbl.SetTitle("glint propagation")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			src := glint.Signal(1)
			for i := 0; i < w; i++ {
				var last glint.Cell[int] = src
				for j := 0; j < h; j++ {
					next, err := glint.Map(last, addOne)
					if err != nil {
						log.Fatal(err)
					}
					last = next
				}
				last.Subscribe(func(v int, err error) {
					if err != nil {
						log.Fatal(err)
					}
				})
			}

			for i := 0; i < iters; i++ {
				start := time.Now()
				src.Update(addOne)
				tach.AddTime(time.Since(start))
			}

			calc := tach.Calc()
			tbl.AppendRows([]table.Row{
				{
					fmt.Sprintf("propagate: %d * %d", w, h),
					calc.Time.Avg,
					calc.Time.Min,
					calc.Time.P75,
					calc.Time.P99,
					calc.Time.Max,
				},
			})
		}
	}

	tbl.Render()
}
