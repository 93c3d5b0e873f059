// Package inference loads the pre-trained reconstruction network and runs it
// through ONNX Runtime.
//
// The network is exported once from its training framework to ONNX and
// loaded at startup; its graph is treated as opaque. Only the first input and
// first output are used unless names are configured explicitly.
package inference

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"mrirecon/pkg/reconstruction"
)

// Options configures how the model artifact is loaded.
type Options struct {
	// ModelPath is the ONNX artifact
	ModelPath string

	// RuntimeLibrary is the onnxruntime shared library. When empty the
	// library default lookup is used.
	RuntimeLibrary string

	// InputName and OutputName select graph tensors. Empty means the first
	// one declared by the artifact.
	InputName  string
	OutputName string

	// IntraOpThreads limits ONNX Runtime's intra-op thread pool. Zero keeps
	// the runtime default.
	IntraOpThreads int
}

// Model is a loaded ONNX network. It is not safe for concurrent Predict calls.
type Model struct {
	session     *ort.DynamicAdvancedSession
	input       ort.InputOutputInfo
	output      ort.InputOutputInfo
	ownsRuntime bool
}

// Load reads the model artifact and prepares an inference session. Every
// failure is reported as a reconstruction.ModelLoadFailure.
func Load(opts Options) (*Model, error) {
	if opts.ModelPath == "" {
		return nil, loadError(opts.ModelPath, errors.New("no model path configured"))
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, loadError(opts.ModelPath, err)
	}

	ownsRuntime := false
	if !ort.IsInitialized() {
		if opts.RuntimeLibrary != "" {
			ort.SetSharedLibraryPath(opts.RuntimeLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, loadError(opts.ModelPath, fmt.Errorf("initialize onnxruntime: %w", err))
		}
		ownsRuntime = true
	}

	m, err := newModel(opts)
	if err != nil {
		if ownsRuntime {
			_ = ort.DestroyEnvironment()
		}
		return nil, loadError(opts.ModelPath, err)
	}
	m.ownsRuntime = ownsRuntime
	return m, nil
}

func newModel(opts Options) (*Model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read graph signature: %w", err)
	}

	input, err := selectTensor(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	output, err := selectTensor(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{input.Name}, []string{output.Name}, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Model{
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Predict runs the network on a float32 tensor and returns a copy of its
// output.
func (m *Model) Predict(input *tensor.Dense) (*tensor.Dense, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("input must be float32, got %v", input.Dtype())
	}

	inShape := toShape(input.Shape())
	if err := checkShape(m.input.Dimensions, inShape); err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(inShape, data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	// A nil output lets ONNX Runtime allocate it with the shape the graph
	// produces.
	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("session produced no output")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q is %T, want float32 tensor", m.output.Name, outputs[0])
	}
	return toDense(out)
}

// floatOutput is the view of an ONNX output tensor that toDense reads.
type floatOutput interface {
	GetShape() ort.Shape
	GetData() []float32
}

// toDense copies an output tensor into Go memory, keeping the shape the
// runtime reported.
func toDense(out floatOutput) (*tensor.Dense, error) {
	shape := out.GetShape()
	data := out.GetData()
	if n := shape.FlattenedSize(); n != int64(len(data)) {
		return nil, fmt.Errorf("output shape %v holds %d values, got %d", shape, n, len(data))
	}

	result := make([]float32, len(data))
	copy(result, data)

	return tensor.New(
		tensor.WithShape(fromShape(shape)...),
		tensor.WithBacking(result),
	), nil
}

// Signature describes the graph tensors in use, for logs and reports.
func (m *Model) Signature() string {
	return fmt.Sprintf("%s%v -> %s%v", m.input.Name, m.input.Dimensions, m.output.Name, m.output.Dimensions)
}

// Close releases the session and, if Load initialized it, the runtime.
func (m *Model) Close() error {
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.ownsRuntime {
		errs = append(errs, ort.DestroyEnvironment())
		m.ownsRuntime = false
	}
	return errors.Join(errs...)
}

func loadError(path string, err error) error {
	return &reconstruction.Error{
		Kind: reconstruction.ModelLoadFailure,
		Op:   "load",
		Path: path,
		Err:  err,
	}
}

// selectTensor picks the named tensor, or the first one when name is empty.
// Only float32 tensors are accepted.
func selectTensor(infos []ort.InputOutputInfo, name, role string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model declares no %s tensors", role)
	}

	selected := infos[0]
	if name != "" {
		found := false
		for _, info := range infos {
			if info.Name == name {
				selected = info
				found = true
				break
			}
		}
		if !found {
			return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensor named %q", role, name)
		}
	}

	if selected.OrtValueType != ort.ONNXTypeTensor {
		return ort.InputOutputInfo{}, fmt.Errorf("%s %q is not a tensor", role, selected.Name)
	}
	if selected.DataType != ort.TensorElementDataTypeFloat {
		return ort.InputOutputInfo{}, fmt.Errorf("%s %q has element type %v, want float32",
			role, selected.Name, selected.DataType)
	}
	return selected, nil
}

// checkShape compares a concrete input shape against the declared one.
// Negative declared dimensions are dynamic and match anything.
func checkShape(declared, actual ort.Shape) error {
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(actual) {
		return fmt.Errorf("input rank %d does not match model rank %d", len(actual), len(declared))
	}
	for i, d := range declared {
		if d >= 0 && d != actual[i] {
			return fmt.Errorf("input shape %v does not match model shape %v", actual, declared)
		}
	}
	return nil
}

func toShape(s tensor.Shape) ort.Shape {
	shape := make(ort.Shape, len(s))
	for i, d := range s {
		shape[i] = int64(d)
	}
	return shape
}

func fromShape(s ort.Shape) []int {
	dims := make([]int, len(s))
	for i, d := range s {
		dims[i] = int(d)
	}
	return dims
}
