package preprocess

import (
	"github.com/gomlx/nnbridge/arena"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Run executes the compiled graph once, reading inBytes bytes from the start of the in region and writing
// outBytes bytes to the start of the out region. It blocks until the computation completes: when it returns
// without error the out region holds the result.
//
// Failures wrap ErrExecution, and the nnrt.ResultCode of the runtime can be recovered with nnrt.CodeOf.
func Run(g *Graph, in, out *arena.Region, inBytes, outBytes int) error {
	return run(g, in, out, inBytes, outBytes, nil)
}

// run implements Run, reporting the Bound, Dispatched and Completed transitions to onState, if not nil.
func run(g *Graph, in, out *arena.Region, inBytes, outBytes int, onState func(state)) error {
	transition := func(s state) {
		if onState != nil {
			onState(s)
		}
	}
	if g == nil || g.compilation == nil {
		return withKind(ErrExecution, errors.New("graph is nil or freed"), "preprocess.Run")
	}
	if in == nil || out == nil || in.Memory() == nil || out.Memory() == nil {
		return withKind(ErrExecution, errors.New("input or output region is nil or released"), "preprocess.Run")
	}
	execution, err := nnrt.NewExecution(g.compilation)
	if err != nil {
		return withKind(ErrExecution, err, "creating execution")
	}
	defer execution.Free()

	if err = execution.SetInputFromMemory(0, in.Memory(), 0, inBytes); err != nil {
		return withKind(ErrExecution, err, "binding input region %q", in.Name())
	}
	if err = execution.SetOutputFromMemory(0, out.Memory(), 0, outBytes); err != nil {
		return withKind(ErrExecution, err, "binding output region %q", out.Name())
	}
	transition(stateBound)

	event, err := execution.StartCompute()
	if err != nil {
		return withKind(ErrExecution, err, "starting computation")
	}
	transition(stateDispatched)

	if err = event.Wait(); err != nil {
		return withKind(ErrExecution, err, "computation failed")
	}
	transition(stateCompleted)
	klog.V(2).Infof("preprocess: execution completed, %d bytes written to region %q", outBytes, out.Name())
	return nil
}
