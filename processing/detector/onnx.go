package processing

import (
	"context"
	"fmt"
	"image"
	"sync"

	"defectvision/internal/config"
	"defectvision/internal/logging"
	"defectvision/internal/models"

	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig mirrors config.ModelConfig field for field.
type OnnxConfig struct {
	Path               string
	OnnxRuntimeLibPath string
	UseCuda            bool
	NumThreads         int
	InputSize          int
	IOUThreshold       float32
	Classes            []string
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(libPath string) error {
	if libPath == "" {
		return fmt.Errorf("onnxruntime library path is empty")
	}
	ortOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	if ortErr != nil {
		return fmt.Errorf("initialize onnxruntime: %w", ortErr)
	}
	return nil
}

// OnnxDetector runs a YOLOv8 detection model exported to ONNX.
type OnnxDetector struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession

	cfg        OnnxConfig
	numClasses int
	anchors    int
	device     models.Device
	annotator  *Annotator
}

func NewOnnxDetectorFromConfig(mc config.ModelConfig, ann *Annotator) (*OnnxDetector, error) {
	oc := OnnxConfig{}
	if err := convertutil.CopyProperties(mc, &oc); err != nil {
		return nil, fmt.Errorf("copy model config: %w", err)
	}
	return NewOnnxDetector(oc, ann)
}

func NewOnnxDetector(cfg OnnxConfig, ann *Annotator) (*OnnxDetector, error) {
	if err := initRuntime(cfg.OnnxRuntimeLibPath); err != nil {
		return nil, err
	}

	_, outputs, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", cfg.Path, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no outputs", cfg.Path)
	}

	numClasses := len(cfg.Classes)
	if dims := outputs[0].Dimensions; len(dims) == 3 && dims[1] > 4 {
		numClasses = int(dims[1]) - 4
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("cannot determine class count for %s", cfg.Path)
	}
	if numClasses != len(cfg.Classes) {
		logging.L().Warnf("model has %d classes, %d names configured", numClasses, len(cfg.Classes))
	}

	session, device, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	logging.L().WithField("model", cfg.Path).WithField("device", device).Info("model loaded")

	return &OnnxDetector{
		session:    session,
		cfg:        cfg,
		numClasses: numClasses,
		anchors:    anchorCount(cfg.InputSize),
		device:     device,
		annotator:  ann,
	}, nil
}

// newSession prefers CUDA when asked for and falls back to the CPU provider.
func newSession(cfg OnnxConfig) (*ort.DynamicAdvancedSession, models.Device, error) {
	if cfg.UseCuda {
		session, err := createSession(cfg, true)
		if err == nil {
			return session, models.DeviceCUDA, nil
		}
		logging.L().WithError(err).Warn("CUDA is not available, using CPU")
	}

	session, err := createSession(cfg, false)
	if err != nil {
		return nil, "", err
	}
	return session, models.DeviceCPU, nil
}

func createSession(cfg OnnxConfig, cuda bool) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	if cuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("append CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{"images"}, []string{"output0"}, options)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.Path, err)
	}
	return session, nil
}

func (d *OnnxDetector) Detect(ctx context.Context, img image.Image, confidence float32) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoImage
	}

	size := int64(d.cfg.InputSize)
	data, params := preprocess(img, d.cfg.InputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+d.numClasses), int64(d.anchors)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	d.mu.Lock()
	if d.session == nil {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	err = d.session.Run([]ort.Value{input}, []ort.Value{output})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	cands := decodeOutput(output.GetData(), d.numClasses, d.anchors, confidence, params)
	dets := toDetections(nms(cands, d.cfg.IOUThreshold), d.cfg.Classes)

	return &Output{
		Detections: dets,
		Annotated:  d.annotator.Render(img, dets),
	}, nil
}

func (d *OnnxDetector) Device() models.Device {
	return d.device
}

func (d *OnnxDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}
