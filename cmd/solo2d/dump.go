package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/store"
)

// dump prints the n slots up to and including the one covering now.
func dump(ctx context.Context, w io.Writer, st *store.Store, n int, now time.Time) error {
	return st.View(ctx, func(s *store.Store) error {
		last, err := s.IndexFor(now)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tSLOT\tTIME\tKWH\tCOST\tGEN KWH\tGAIN\tTEMP1\tTEMP2")

		for i := last - n + 1; i <= last; i++ {
			slot, err := s.SlotAt(i)
			if err != nil {
				return err
			}
			pos := record.FloorMod(int64(i), store.SlotCount)

			if !slot.Initialized() {
				fmt.Fprintf(tw, "%d\t%d\tuninitialized\t\t\t\t\t\t\n", i, pos)
				continue
			}

			r := slot.Record(s.Epoch())
			fmt.Fprintf(tw, "%d\t%d\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.1f\t%.1f\n",
				i, pos, r.Time.In(now.Location()).Format(time.RFC3339),
				r.Consumption, r.Cost, r.Generation, r.Gain, r.Temp1, r.Temp2)
		}

		return tw.Flush()
	})
}
