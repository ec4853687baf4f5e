package flamegraph

import (
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// ToProfile encodes stacks as a pprof profile with a single wall/microseconds
// sample type, so captures can be opened with `go tool pprof`.
func ToProfile(stacks Stacks, start time.Time) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "wall", Unit: "microseconds"}},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "microseconds"},
		Period:     1,
		TimeNanos:  start.UnixNano(),
	}

	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	locations := make(map[string]*profile.Location)
	locationFor := func(name string) *profile.Location {
		if loc, ok := locations[name]; ok {
			return loc
		}
		id := uint64(len(locations) + 1)
		fn := &profile.Function{ID: id, Name: name, SystemName: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		locations[name] = loc
		return loc
	}

	for _, key := range keys {
		frames := strings.Split(key, ";")
		locs := make([]*profile.Location, len(frames))
		// pprof stacks are leaf first
		for i, name := range frames {
			locs[len(frames)-1-i] = locationFor(name)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{stacks[key]},
		})
	}
	return prof
}
