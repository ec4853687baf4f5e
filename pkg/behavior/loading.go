package behavior

import (
	"fmt"
	"strings"
)

// LoadingBehavior selects where the loading simulation runs.
type LoadingBehavior int

const (
	LoadingNone LoadingBehavior = iota
	LoadingPreLoop
	LoadingFirstLoop
	LoadingThreaded
)

var loadingNames = map[LoadingBehavior]string{
	LoadingNone:      "none",
	LoadingPreLoop:   "pre-loop",
	LoadingFirstLoop: "first-loop",
	LoadingThreaded:  "threaded",
}

// LoadingValues lists the accepted textual forms in declaration order.
func LoadingValues() []string {
	return []string{"none", "pre-loop", "first-loop", "threaded"}
}

// ParseLoading converts a textual loading behavior.
func ParseLoading(s string) (LoadingBehavior, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for b, name := range loadingNames {
		if name == key {
			return b, nil
		}
	}
	return LoadingNone, fmt.Errorf("invalid loading behavior %q (expected one of %s)",
		s, strings.Join(LoadingValues(), ", "))
}

func (b LoadingBehavior) String() string {
	if name, ok := loadingNames[b]; ok {
		return name
	}
	return fmt.Sprintf("LoadingBehavior(%d)", int(b))
}

// Set implements pflag.Value.
func (b *LoadingBehavior) Set(s string) error {
	v, err := ParseLoading(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Type implements pflag.Value.
func (b *LoadingBehavior) Type() string {
	return "loading"
}

// MarshalText implements encoding.TextMarshaler.
func (b LoadingBehavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the YAML config.
func (b *LoadingBehavior) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}
