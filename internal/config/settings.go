package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Granularity selects what a response_time measurement covers.
type Granularity string

const (
	GranularityStep    Granularity = "step"
	GranularityPage    Granularity = "page"
	GranularityNetwork Granularity = "network"
)

// Unbounded disables LoopCount or Duration.
const Unbounded = -1

// Settings is the per-script record a compiled script declares. It must not
// change while a run is in progress.
type Settings struct {
	Name                    string
	Description             string
	ActionDelay             time.Duration
	StepDelay               time.Duration
	ClearCache              bool
	ClearCookies            bool
	Device                  string
	IgnoreHTTPSErrors       bool
	UserAgent               string
	Duration                time.Duration // Unbounded when negative
	LoopCount               int           // Unbounded when negative
	ScreenshotOnFailure     bool
	WaitTimeout             time.Duration
	ResponseTimeMeasurement Granularity
	ConsoleFilter           []string
}

// DefaultSettings returns the settings used when a script declares none.
func DefaultSettings() Settings {
	return Settings{
		ActionDelay:             2 * time.Second,
		ClearCookies:            true,
		Device:                  "Chrome Desktop Large",
		Duration:                Unbounded,
		LoopCount:               1,
		ScreenshotOnFailure:     true,
		WaitTimeout:             30 * time.Second,
		ResponseTimeMeasurement: GranularityStep,
		ConsoleFilter:           []string{},
	}
}

// LoopsUnbounded reports whether LoopCount places no limit on iterations.
func (s Settings) LoopsUnbounded() bool { return s.LoopCount < 0 }

// DurationUnbounded reports whether Duration places no limit on wall time.
func (s Settings) DurationUnbounded() bool { return s.Duration < 0 }

// ApplySettings merges raw, as decoded from a script or config file, over s.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func ApplySettings(s *Settings, raw map[string]interface{}) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		var err error
		switch normalizeKey(key) {
		case "name":
			s.Name, err = asString(value)
		case "description":
			s.Description, err = asString(value)
		case "actiondelay":
			s.ActionDelay, err = asDuration(value)
		case "stepdelay":
			s.StepDelay, err = asDuration(value)
		case "clearcache":
			s.ClearCache, err = asBool(value)
		case "clearcookies":
			s.ClearCookies, err = asBool(value)
		case "device":
			s.Device, err = asString(value)
		case "ignorehttpserrors":
			s.IgnoreHTTPSErrors, err = asBool(value)
		case "useragent":
			s.UserAgent, err = asString(value)
		case "duration":
			s.Duration, err = asDurationLimit(value)
		case "loopcount":
			s.LoopCount, err = asLoopLimit(value)
		case "screenshotonfailure":
			s.ScreenshotOnFailure, err = asBool(value)
		case "waittimeout":
			s.WaitTimeout, err = asDuration(value)
		case "responsetimemeasurement":
			s.ResponseTimeMeasurement, err = asGranularity(value)
		case "consolefilter":
			s.ConsoleFilter, err = asStringSlice(value)
		default:
			err = fmt.Errorf("unknown setting")
		}
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

func asGranularity(value interface{}) (Granularity, error) {
	s, err := asString(value)
	if err != nil {
		return "", err
	}
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case GranularityStep, GranularityPage, GranularityNetwork:
		return g, nil
	case "":
		return GranularityStep, nil
	default:
		return "", fmt.Errorf("%q is not one of step, page, network", s)
	}
}
