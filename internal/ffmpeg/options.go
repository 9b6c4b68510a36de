package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType represents a strongly typed FFmpeg decode option
type OptionType string

// FFmpeg option constants
const (
	OptionGeneratePTS    OptionType = "genpts"
	OptionIgnoreDTS      OptionType = "igndts"
	OptionDiscardCorrupt OptionType = "discardcorrupt"
	OptionIgnoreErrors   OptionType = "ignore_err"
	OptionHWAccel        OptionType = "hwaccel"
	OptionSingleThread   OptionType = "threads_1"
	OptionAutoThreads    OptionType = "threads_auto"
	OptionLowDelay       OptionType = "low_delay"
)

// OptionCategory represents option categories
type OptionCategory string

const (
	CategoryTiming      OptionCategory = "Timing"
	CategoryErrorHandle OptionCategory = "Error Handling"
	CategoryPerformance OptionCategory = "Performance"
)

// ExclusiveGroup represents a group of mutually exclusive options
type ExclusiveGroup string

const (
	GroupThreads ExclusiveGroup = "threads"
)

// Option describes one decode flag and how it combines with others.
type Option struct {
	Key            OptionType
	Name           string
	Description    string
	Category       OptionCategory
	AppDefault     bool
	ExclusiveGroup *ExclusiveGroup
	ConflictsWith  []OptionType
}

func group(g ExclusiveGroup) *ExclusiveGroup { return &g }

// AllOptions contains all decode flags the backend understands.
var AllOptions = []Option{
	{
		Key:         OptionGeneratePTS,
		Name:        "Generate PTS",
		Description: "Generate missing presentation timestamps",
		Category:    CategoryTiming,
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps of broken files",
		Category:    CategoryTiming,
	},
	{
		Key:           OptionDiscardCorrupt,
		Name:          "Discard Corrupt",
		Description:   "Drop corrupted packets",
		Category:      CategoryErrorHandle,
		ConflictsWith: []OptionType{OptionIgnoreErrors},
	},
	{
		Key:           OptionIgnoreErrors,
		Name:          "Ignore Errors",
		Description:   "Keep decoding through bitstream errors",
		Category:      CategoryErrorHandle,
		ConflictsWith: []OptionType{OptionDiscardCorrupt},
	},
	{
		Key:         OptionHWAccel,
		Name:        "Hardware Decode",
		Description: "Let ffmpeg pick a hardware decoder when one is available",
		Category:    CategoryPerformance,
	},
	{
		Key:            OptionSingleThread,
		Name:           "Single Thread",
		Description:    "Decode on one thread to minimise frame delay",
		Category:       CategoryPerformance,
		ExclusiveGroup: group(GroupThreads),
	},
	{
		Key:            OptionAutoThreads,
		Name:           "Auto Threads",
		Description:    "Let the decoder choose its thread count",
		Category:       CategoryPerformance,
		AppDefault:     true,
		ExclusiveGroup: group(GroupThreads),
	},
	{
		Key:         OptionLowDelay,
		Name:        "Low Delay",
		Description: "Force low-delay decoding",
		Category:    CategoryPerformance,
	},
}

// GetOptionByKey returns an option by its key
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// GetOptionsByCategory returns options grouped by category
func GetOptionsByCategory() map[OptionCategory][]Option {
	categories := make(map[OptionCategory][]Option)
	for _, option := range AllOptions {
		categories[option.Category] = append(categories[option.Category], option)
	}
	return categories
}

// ParseOptions converts configured option keys. Unknown keys are an error.
func ParseOptions(keys []string) ([]OptionType, error) {
	options := make([]OptionType, 0, len(keys))
	for _, k := range keys {
		key := OptionType(strings.TrimSpace(k))
		if GetOptionByKey(key) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", k)
		}
		options = append(options, key)
	}
	return options, ValidateOptions(options)
}

// ValidateOptions checks for conflicts and exclusive group violations
func ValidateOptions(selectedOptions []OptionType) error {
	exclusiveGroups := make(map[ExclusiveGroup][]OptionType)
	for _, optionKey := range selectedOptions {
		option := GetOptionByKey(optionKey)
		if option == nil || option.ExclusiveGroup == nil {
			continue
		}
		exclusiveGroups[*option.ExclusiveGroup] = append(exclusiveGroups[*option.ExclusiveGroup], optionKey)
	}

	for g, options := range exclusiveGroups {
		if len(options) > 1 {
			var optionNames []string
			for _, opt := range options {
				optionNames = append(optionNames, GetOptionByKey(opt).Name)
			}
			return fmt.Errorf("multiple options from exclusive group '%s' selected: %s", g, strings.Join(optionNames, ", "))
		}
	}

	selectedSet := make(map[OptionType]bool)
	for _, opt := range selectedOptions {
		selectedSet[opt] = true
	}
	for _, optionKey := range selectedOptions {
		option := GetOptionByKey(optionKey)
		if option == nil {
			continue
		}
		for _, conflictOpt := range option.ConflictsWith {
			if selectedSet[conflictOpt] {
				return fmt.Errorf("option '%s' conflicts with '%s'", option.Name, GetOptionByKey(conflictOpt).Name)
			}
		}
	}
	return nil
}

// GetDefaultOptions returns the options that are enabled by default in the application
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, option := range AllOptions {
		if option.AppDefault {
			defaults = append(defaults, option.Key)
		}
	}
	return defaults
}

// inputArgs renders options that belong before -i.
func inputArgs(options []OptionType) []string {
	var args, fflags []string
	for _, option := range options {
		switch option {
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionDiscardCorrupt:
			fflags = append(fflags, "+discardcorrupt")
		case OptionIgnoreErrors:
			args = append(args, "-err_detect", "ignore_err")
		case OptionHWAccel:
			args = append(args, "-hwaccel", "auto")
		case OptionSingleThread:
			args = append(args, "-threads", "1")
		case OptionAutoThreads:
			args = append(args, "-threads", "0")
		case OptionLowDelay:
			args = append(args, "-flags", "+low_delay")
		}
	}
	if len(fflags) > 0 {
		args = append(args, "-fflags", strings.Join(fflags, ""))
	}
	return args
}
