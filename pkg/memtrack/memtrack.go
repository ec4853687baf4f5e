// Package memtrack writes an allocation report for the running process: a
// summary of heap totals followed by the busiest allocation sites.
package memtrack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// MinSiteAllocations is the allocation count a site needs to be listed.
const MinSiteAllocations = 10

// Metric aggregates allocation counters.
type Metric struct {
	Allocated   uint64
	Freed       uint64
	Allocations uint64
	MaxRSS      uint64
}

func (m Metric) String() string {
	return fmt.Sprintf("allocated: %d bytes\nfreed: %d bytes\nallocations: %d\nmax rss: %d bytes",
		m.Allocated, m.Freed, m.Allocations, m.MaxRSS)
}

// Site is one allocation call stack, leaf first.
type Site struct {
	Stack       []string
	Allocations int64
	Bytes       int64
}

// Tracker reports allocations since process start.
type Tracker struct {
	start time.Time
}

// Init creates a tracker stamped with the current time.
func Init() *Tracker {
	return &Tracker{start: time.Now()}
}

// Filename returns the report file name for this tracker.
func (t *Tracker) Filename() string {
	return fmt.Sprintf("alloc_backtrace_%s.txt", t.start.Format("2006-01-02-15:04:05"))
}

// Report writes the report into dir and returns the file path.
func (t *Tracker) Report(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, t.Filename())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("cannot create memory report: %w", err)
	}
	defer f.Close()

	if err := t.WriteReport(f); err != nil {
		return "", err
	}
	return path, f.Close()
}

// WriteReport writes the summary and the site details to w.
func (t *Tracker) WriteReport(w io.Writer) error {
	summary := Summary()
	if _, err := fmt.Fprintf(w, "Summary : \n%s\n", summary); err != nil {
		return err
	}

	sites, err := Sites(MinSiteAllocations)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Details : "); err != nil {
		return err
	}
	for _, s := range sites {
		if _, err := fmt.Fprintf(w, "%d allocations, %d bytes\n\t%s\n",
			s.Allocations, s.Bytes, strings.Join(s.Stack, "\n\t")); err != nil {
			return err
		}
	}
	return nil
}

// Summary reads the runtime allocation counters.
func Summary() Metric {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rss, _ := maxRSS()
	return Metric{
		Allocated:   m.TotalAlloc,
		Freed:       m.TotalAlloc - m.HeapAlloc,
		Allocations: m.Mallocs,
		MaxRSS:      rss,
	}
}

// Sites returns allocation sites with more than minAllocs sampled
// allocations, busiest first.
func Sites(minAllocs int64) ([]Site, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("allocs").WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("cannot write allocs profile: %w", err)
	}
	prof, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("cannot parse allocs profile: %w", err)
	}
	return sitesFromProfile(prof, minAllocs), nil
}

func sitesFromProfile(prof *profile.Profile, minAllocs int64) []Site {
	objectsIdx, bytesIdx := -1, -1
	for i, st := range prof.SampleType {
		switch st.Type {
		case "alloc_objects":
			objectsIdx = i
		case "alloc_space":
			bytesIdx = i
		}
	}
	if objectsIdx < 0 {
		return nil
	}

	var sites []Site
	for _, s := range prof.Sample {
		objects := s.Value[objectsIdx]
		if objects <= minAllocs {
			continue
		}
		site := Site{Allocations: objects}
		if bytesIdx >= 0 {
			site.Bytes = s.Value[bytesIdx]
		}
		for _, loc := range s.Location {
			for _, line := range loc.Line {
				if line.Function != nil {
					site.Stack = append(site.Stack, line.Function.Name)
				}
			}
		}
		sites = append(sites, site)
	}

	sort.SliceStable(sites, func(i, j int) bool {
		return sites[i].Allocations > sites[j].Allocations
	})
	return sites
}
