package preprocess

import (
	"fmt"

	"github.com/gomlx/nnbridge/dtypes"
	"github.com/gomlx/nnbridge/nnbuilder"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Graph is a compiled single-operation RESIZE_BILINEAR graph, with one float32 NHWC input and one float32
// NHWC output.
type Graph struct {
	model       *nnbuilder.Model
	compilation *nnrt.Compilation
	input       nnbuilder.OperandType
	output      nnbuilder.OperandType
}

// BuildResize builds and compiles a graph that resizes a float32 tensor of dimensions inDims to outDims, both
// in NHWC layout: operand 0 is the input, operand 1 the output.
//
// Failures wrap ErrGraphBuild, and nothing created before the failure is leaked.
func BuildResize(inDims, outDims [4]int, cfg Config) (g *Graph, err error) {
	fail := func(err error, format string, args ...any) (*Graph, error) {
		return nil, withKind(ErrGraphBuild, err, format, args...)
	}
	g = &Graph{}
	g.input, err = nnbuilder.MakeOperandTypeOrError(dtypes.Float32, inDims[:]...)
	if err != nil {
		return fail(err, "invalid input dimensions %v", inDims)
	}
	g.output, err = nnbuilder.MakeOperandTypeOrError(dtypes.Float32, outDims[:]...)
	if err != nil {
		return fail(err, "invalid output dimensions %v", outDims)
	}

	builder := nnbuilder.New(fmt.Sprintf("resize_%dx%d_to_%dx%d", inDims[2], inDims[1], outDims[2], outDims[1]))
	input, err := builder.AddOperand(g.input)
	if err != nil {
		return fail(err, "adding input operand")
	}
	output, err := builder.AddOperand(g.output)
	if err != nil {
		return fail(err, "adding output operand")
	}
	if err = nnbuilder.ResizeBilinear(input, output, cfg.Resize); err != nil {
		return fail(err, "adding %s operation", nnbuilder.ResizeBilinearOp)
	}
	if err = builder.IdentifyInputsAndOutputs([]*nnbuilder.Op{input}, []*nnbuilder.Op{output}); err != nil {
		return fail(err, "identifying inputs and outputs")
	}
	g.model, err = builder.Build()
	if err != nil {
		return fail(err, "finishing model")
	}
	if klog.V(3).Enabled() {
		klog.Infof("preprocess: built model:\n%s", g.model.Text())
	}

	g.compilation, err = nnrt.Compile(g.model).
		OnDriver(cfg.DriverName).
		WithPreference(cfg.Preference).
		Done()
	if err != nil {
		g.model.Free()
		return fail(err, "compiling on driver %q", cfg.DriverName)
	}
	klog.V(2).Infof("preprocess: compiled %s -> %s on driver %q (preference %s)",
		g.input, g.output, cfg.DriverName, cfg.Preference)
	return g, nil
}

// Compilation returns the compiled graph. It is only valid until Free.
func (g *Graph) Compilation() *nnrt.Compilation {
	return g.compilation
}

// Model returns the finalized model.
func (g *Graph) Model() *nnbuilder.Model {
	return g.model
}

// InputType of the graph operand 0.
func (g *Graph) InputType() nnbuilder.OperandType {
	return g.input
}

// OutputType of the graph operand 1.
func (g *Graph) OutputType() nnbuilder.OperandType {
	return g.output
}

// Free releases the compilation, then the model. It can be called more than once.
func (g *Graph) Free() error {
	if g == nil {
		return nil
	}
	var err error
	if g.compilation != nil {
		err = errors.WithMessage(g.compilation.Free(), "freeing compilation")
		g.compilation = nil
	}
	if g.model != nil {
		g.model.Free()
		g.model = nil
	}
	return err
}
