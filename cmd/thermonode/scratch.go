package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nugget/thermonode/internal/platform"
	"github.com/nugget/thermonode/internal/scratch"
)

// scratchReport is the output of "thermonode scratch".
type scratchReport struct {
	Path      string `json:"path"`
	Present   bool   `json:"present"`
	Sequence  uint32 `json:"sequence"`
	RunTimeMS uint32 `json:"run_time_ms"`
	Marker    uint32 `json:"boot_marker"`
	NextBoot  string `json:"next_boot"`
}

// runScratch prints the scratch region and the reset cause the next
// boot would classify. A missing region is reported, not created:
// creating it would hide the coming cold power-on.
func runScratch(w io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	rep := scratchReport{Path: cfg.Scratch.Path}
	if _, err := os.Stat(cfg.Scratch.Path); errors.Is(err, os.ErrNotExist) {
		rep.NextBoot = platform.Classify(true, 0).String()
	} else {
		region, _, err := scratch.OpenRegion(cfg.Scratch.Path)
		if err != nil {
			return fmt.Errorf("open scratch region: %w", err)
		}
		defer region.Close()

		rep.Present = true
		for _, f := range []struct {
			offset int
			dst    *uint32
		}{
			{scratch.OffsetSequence, &rep.Sequence},
			{scratch.OffsetRunTime, &rep.RunTimeMS},
			{scratch.OffsetBootMarker, &rep.Marker},
		} {
			if *f.dst, err = region.ReadWord(f.offset); err != nil {
				return fmt.Errorf("read scratch word %d: %w", f.offset, err)
			}
		}
		rep.NextBoot = platform.Classify(false, rep.Marker).String()
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "scratch region %s\n", rep.Path)
	if !rep.Present {
		fmt.Fprintln(w, "  absent")
	} else {
		fmt.Fprintf(w, "  %-12s %d\n", "sequence:", rep.Sequence)
		fmt.Fprintf(w, "  %-12s %d\n", "run_time_ms:", rep.RunTimeMS)
		fmt.Fprintf(w, "  %-12s %#x\n", "marker:", rep.Marker)
	}
	fmt.Fprintf(w, "  %-12s %s\n", "next boot:", rep.NextBoot)
	return nil
}
