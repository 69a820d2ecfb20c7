package preprocess

import (
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/nnbridge/bitmap"
	"github.com/gomlx/nnbridge/nnbuilder"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dimensions of the tensor produced by the preprocessor.
const (
	OutputHeight   = 224
	OutputWidth    = 224
	OutputChannels = 3
)

const (
	// DriverEnv overrides the nnrt driver used to compile the resize graph.
	DriverEnv = "NNBRIDGE_DRIVER"

	// LegacyIndexingEnv, if set to true, makes the result bitmap use bitmap.IndexLegacy.
	LegacyIndexingEnv = "NNBRIDGE_LEGACY_INDEXING"

	// CollapseEnv selects the channel collapse of the result bitmap: "first" or "mean".
	CollapseEnv = "NNBRIDGE_COLLAPSE"
)

// Config of a Preprocessor.
type Config struct {
	// DriverName of the nnrt driver used to compile and run the resize graph.
	DriverName string

	// Preference passed to the driver when compiling.
	Preference nnrt.Preference

	// Resize options of the RESIZE_BILINEAR operation. Both false by default.
	Resize nnbuilder.ResizeOptions

	// Materialize options used to convert the output tensor to a bitmap.
	Materialize bitmap.MaterializeOptions
}

// DefaultConfig returns the default configuration, with the overrides from the environment variables
// DriverEnv, LegacyIndexingEnv and CollapseEnv. Invalid values are logged and ignored.
func DefaultConfig() Config {
	cfg := Config{
		DriverName: nnrt.DefaultDriverName,
		Preference: nnrt.PreferFastSingleAnswer,
	}
	if name := os.Getenv(DriverEnv); name != "" {
		cfg.DriverName = name
	}
	if value := os.Getenv(LegacyIndexingEnv); value != "" {
		legacy, err := strconv.ParseBool(value)
		if err != nil {
			klog.Warningf("preprocess: invalid value %q for $%s, ignoring: %v", value, LegacyIndexingEnv, err)
		} else if legacy {
			cfg.Materialize.Indexing = bitmap.IndexLegacy
		}
	}
	if value := os.Getenv(CollapseEnv); value != "" {
		collapse, err := ParseCollapse(value)
		if err != nil {
			klog.Warningf("preprocess: ignoring $%s: %v", CollapseEnv, err)
		} else {
			cfg.Materialize.Collapse = collapse
		}
	}
	return cfg
}

// ParseCollapse converts "first" or "mean" (case-insensitive) to a bitmap.Collapse.
func ParseCollapse(name string) (bitmap.Collapse, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case bitmap.CollapseFirst.String():
		return bitmap.CollapseFirst, nil
	case bitmap.CollapseMean.String():
		return bitmap.CollapseMean, nil
	}
	return bitmap.CollapseFirst, errors.Errorf("unknown channel collapse %q, valid values are %q and %q",
		name, bitmap.CollapseFirst, bitmap.CollapseMean)
}
