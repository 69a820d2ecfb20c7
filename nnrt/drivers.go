package nnrt

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDriverName is the driver used by CompileConfig if none is selected.
const DefaultDriverName = "cpu"

// Preference hints drivers on how to trade off speed and power during compilation.
type Preference int

const (
	PreferLowPower         Preference = 0
	PreferFastSingleAnswer Preference = 1
	PreferSustainedSpeed   Preference = 2
)

// String implements fmt.Stringer.
func (p Preference) String() string {
	switch p {
	case PreferLowPower:
		return "LowPower"
	case PreferFastSingleAnswer:
		return "FastSingleAnswer"
	case PreferSustainedSpeed:
		return "SustainedSpeed"
	}
	return fmt.Sprintf("Preference(%d)", int(p))
}

// Driver compiles serialized models (see package nnbuilder for the format) for one accelerator.
//
// Drivers are registered with RegisterDriver, and selected by name with CompileConfig.OnDriver.
type Driver interface {
	// Name of the driver, e.g. "cpu".
	Name() string

	// Version of the driver implementation.
	Version() string

	// Prepare compiles the serialized program. The program bytes are only valid during the call.
	Prepare(program []byte, preference Preference) (PreparedModel, error)
}

// PreparedModel is a program compiled by a Driver.
type PreparedModel interface {
	// Inputs returns the types of the inputs, in the order they are bound by an Execution.
	Inputs() []OperandInfo

	// Outputs returns the types of the outputs, in the order they are bound by an Execution.
	Outputs() []OperandInfo

	// Compute runs the program synchronously. The inputs and outputs are views over the bound
	// Memory, and their lengths match the operand sizes.
	Compute(inputs, outputs [][]byte) error

	// Close releases the resources of the prepared model.
	Close() error
}

var (
	driversMu sync.Mutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available by its name. It's usually called from the init function of the
// driver's package.
//
// It returns an error if a driver with the same name is already registered.
func RegisterDriver(driver Driver) error {
	if driver == nil {
		return errorf(UnexpectedNull, "RegisterDriver given a nil driver")
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	name := driver.Name()
	if _, found := drivers[name]; found {
		return errorf(BadState, "a driver named %q is already registered", name)
	}
	drivers[name] = driver
	klog.V(1).Infof("registered nnrt driver %q (version %s)", name, driver.Version())
	return nil
}

// GetDriver returns the registered driver with the given name.
func GetDriver(name string) (Driver, error) {
	driversMu.Lock()
	defer driversMu.Unlock()
	driver, found := drivers[name]
	if !found {
		return nil, errors.WithMessagef(errorf(BadData, "driver %q not registered", name),
			"available drivers: %v -- did you forget to import the driver package (e.g.: _ \"github.com/gomlx/nnbridge/nnrt/cpu\")?",
			keys(drivers))
	}
	return driver, nil
}

// AvailableDrivers returns the names of the registered drivers, sorted.
func AvailableDrivers() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	return keys(drivers)
}
