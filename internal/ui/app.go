package ui

import (
	"errors"
	"fmt"
	"image"
	"time"

	"defectvision/internal/config"
	"defectvision/internal/logging"
	"defectvision/internal/models"
	"defectvision/internal/ui/cwidget"
	"defectvision/processing/capture"
	processing "defectvision/processing/detector"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

const (
	windowTitle    = "Metal Surface Defect Detection"
	statusTimeout  = 3 * time.Second
	statusReady    = "Ready"
	panelMinWidth  = 500
	panelMinHeight = 500
)

type DetectApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config  *config.Config
	runner  *processing.Runner
	loadErr error

	originalCanvas *canvas.Image
	resultCanvas   *canvas.Image
	openBtn        *widget.Button
	detectBtn      *widget.Button
	progress       *widget.ProgressBarInfinite
	confidence     *cwidget.ConfidenceSlider
	status         *cwidget.StatusBar

	currentImage image.Image
	currentPath  string

	// lastResult is the annotated image of lastSource.
	lastResult image.Image
	lastSource string
}

// CreateApp builds the window. runner is nil when the model failed to load, in
// which case loadErr is shown once the window is up and detection stays disabled.
func CreateApp(runner *processing.Runner, loadErr error, cfg *config.Config) *DetectApp {
	a := app.NewWithID(cfg.UI.AppID)
	a.Settings().SetTheme(newTheme(cfg.UI.Theme))

	return newDetectApp(a, runner, loadErr, cfg)
}

func newDetectApp(a fyne.App, runner *processing.Runner, loadErr error, cfg *config.Config) *DetectApp {
	w := a.NewWindow(windowTitle)
	w.Resize(fyne.NewSize(float32(cfg.UI.Width), float32(cfg.UI.Height)))

	d := &DetectApp{
		fyneApp: a,
		mainWin: w,
		config:  cfg,
		runner:  runner,
		loadErr: loadErr,
	}
	if runner == nil && loadErr == nil {
		d.loadErr = errors.New("no detector configured")
	}
	d.build()

	return d
}

func (a *DetectApp) Run() {
	a.mainWin.SetCloseIntercept(a.quit)

	a.mainWin.CenterOnScreen()
	a.mainWin.Show()

	if a.loadErr != nil {
		a.status.ShowMessage("Model failed to load", statusTimeout)
		dialog.ShowError(fmt.Errorf("cannot load model: %w", a.loadErr), a.mainWin)
	} else {
		a.status.ShowMessage(fmt.Sprintf("Model loaded: %s", a.modelDescription()), statusTimeout)
	}

	a.fyneApp.Run()
}

func (a *DetectApp) build() {
	a.originalCanvas = newImagePanel()
	a.resultCanvas = newImagePanel()

	a.status = cwidget.NewStatusBar(statusReady)

	a.progress = widget.NewProgressBarInfinite()
	a.progress.Stop()
	a.progress.Hide()

	a.confidence = cwidget.NewConfidenceSlider("Confidence threshold", a.config.GetConfidence(), func(p int, _ float32) {
		a.config.SetConfidence(p)
	})

	a.openBtn = widget.NewButtonWithIcon("Open Image", theme.FolderOpenIcon(), a.showOpenDialog)
	a.detectBtn = widget.NewButtonWithIcon("Run Detection", theme.SearchIcon(), a.RunDetection)
	a.detectBtn.Disable()

	modelLabel := widget.NewLabelWithStyle("Model: "+a.modelDescription(), fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	modelLabel.Wrapping = fyne.TextWrapBreak
	modelLabel.Importance = widget.HighImportance

	sidebar := container.NewVBox(
		modelLabel,
		a.deviceLabel(),
		widget.NewSeparator(),
		a.confidence,
		widget.NewSeparator(),
		a.openBtn,
		a.detectBtn,
	)

	images := container.NewGridWithColumns(2,
		container.NewBorder(widget.NewLabelWithStyle("Original Image", fyne.TextAlignCenter, fyne.TextStyle{Bold: true}), nil, nil, nil, a.originalCanvas),
		container.NewBorder(widget.NewLabelWithStyle("Detection Result", fyne.TextAlignCenter, fyne.TextStyle{Bold: true}), nil, nil, nil, a.resultCanvas),
	)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(images),
	)
	split.SetOffset(0.2)

	statusRow := container.NewBorder(nil, nil, nil, a.progress, a.status)

	quitItem := fyne.NewMenuItem("Quit", a.quit)
	quitItem.IsQuit = true

	a.mainWin.SetMainMenu(fyne.NewMainMenu(
		fyne.NewMenu("File",
			fyne.NewMenuItem("Open Image", a.showOpenDialog),
			fyne.NewMenuItem("Save Result", a.SaveResult),
			fyne.NewMenuItemSeparator(),
			quitItem,
		),
	))

	a.mainWin.SetContent(container.NewBorder(nil, statusRow, nil, nil, split))
}

// quit saves the config before the window goes away.
func (a *DetectApp) quit() {
	if err := a.config.SaveByDefault(); err != nil {
		logging.L().WithError(err).Warn("failed to save config")
	}
	a.mainWin.Close()
}

func newImagePanel() *canvas.Image {
	img := canvas.NewImageFromImage(nil)
	img.FillMode = canvas.ImageFillContain
	img.ScaleMode = canvas.ImageScaleSmooth
	img.SetMinSize(fyne.NewSize(panelMinWidth, panelMinHeight))
	return img
}

func (a *DetectApp) deviceLabel() *widget.Label {
	if a.runner == nil {
		l := widget.NewLabel("Device: unavailable")
		l.Importance = widget.DangerImportance
		return l
	}

	switch dev := a.runner.Device(); {
	case dev.IsGPU():
		l := widget.NewLabel("GPU: enabled")
		l.Importance = widget.SuccessImportance
		return l
	case dev == models.DeviceRemote:
		return widget.NewLabel("Device: detection server")
	default:
		l := widget.NewLabel("GPU: unavailable, using CPU")
		l.Importance = widget.DangerImportance
		return l
	}
}

func (a *DetectApp) modelDescription() string {
	if a.config.Backend == config.BackendRemote {
		return a.config.Remote.Host + " (remote)"
	}
	return a.config.GetModelPath()
}

func (a *DetectApp) showOpenDialog() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			a.status.ShowMessage(fmt.Sprintf("Open failed: %v", err), statusTimeout)
			return
		}
		if reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()

		a.OpenImage(path)
	}, a.mainWin)
	fd.SetFilter(storage.NewExtensionFileFilter(capture.SupportedExtensions))
	fd.Show()
}

// OpenImage loads path into the original panel. A failed read only reports a
// status message; the previously loaded image stays. Nothing is opened while a
// detection runs.
func (a *DetectApp) OpenImage(path string) {
	if a.runner != nil && a.runner.Busy() {
		a.status.ShowMessage("Wait for the running detection to finish", statusTimeout)
		return
	}

	img, err := capture.LoadImage(path)
	if err != nil {
		logging.L().WithError(err).WithField("path", path).Warn("image read failed")
		a.status.ShowMessage(fmt.Sprintf("Image read error: %v", err), statusTimeout)
		return
	}

	a.currentImage = img
	a.currentPath = path

	a.originalCanvas.Image = img
	a.originalCanvas.Refresh()

	a.lastResult, a.lastSource = nil, ""
	a.resultCanvas.Image = nil
	a.resultCanvas.Refresh()

	if a.runner != nil {
		a.detectBtn.Enable()
	}
	a.status.ShowMessage(fmt.Sprintf("Loaded image: %s", path), statusTimeout)
}

// RunDetection submits the current image and returns at once; the result is
// applied on the UI goroutine when it arrives.
func (a *DetectApp) RunDetection() {
	if a.runner == nil {
		dialog.ShowInformation("Model not loaded", "The detection model could not be loaded. Check the model file and restart.", a.mainWin)
		return
	}
	if a.currentImage == nil {
		a.status.ShowMessage("Open an image first", statusTimeout)
		return
	}

	done, err := a.runner.Submit(a.currentImage, a.confidence.Threshold())
	if err != nil {
		a.status.ShowMessage(err.Error(), statusTimeout)
		return
	}

	source := a.currentPath

	a.detectBtn.Disable()
	a.openBtn.Disable()
	a.progress.Show()
	a.progress.Start()
	a.status.ShowMessage("Detecting defects...", 0)

	go func() {
		res := <-done
		fyne.Do(func() {
			a.onDetectionFinished(res, source)
		})
	}()
}

func (a *DetectApp) onDetectionFinished(res models.DetectionResult, source string) {
	a.resultCanvas.Image = res.Annotated
	a.resultCanvas.Refresh()
	a.lastSource = source
	a.lastResult = res.Annotated

	a.detectBtn.Enable()
	a.openBtn.Enable()
	a.progress.Stop()
	a.progress.Hide()

	if res.Failed() {
		a.status.ShowMessage("Detection failed", statusTimeout)
		return
	}
	a.status.ShowMessage(fmt.Sprintf("Detection finished. %s", res.Caption), statusTimeout)
}

// SaveResult writes the last annotated image into the results directory under
// the name of the image it was detected on.
func (a *DetectApp) SaveResult() {
	if a.lastResult == nil || a.lastSource == "" {
		a.status.ShowMessage("Nothing to save yet", statusTimeout)
		return
	}

	out := capture.ResultPath(a.lastSource, a.config.GetResultsDir())
	if err := capture.SaveImage(out, a.lastResult); err != nil {
		dialog.ShowError(err, a.mainWin)
		return
	}
	a.status.ShowMessage(fmt.Sprintf("Saved result to %s", out), statusTimeout)
}
