package cwidget

import (
	"fmt"

	"defectvision/internal/models"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// ConfidenceSlider is a labelled slider over [models.ConfidenceMin, models.ConfidenceMax]
// that reports its position as a detector threshold.
type ConfidenceSlider struct {
	widget.BaseWidget

	labelWidget  *widget.Label
	sliderWidget *widget.Slider

	LabelText string
	percent   int

	OnChanged func(percent int, threshold float32)
}

func NewConfidenceSlider(label string, percent int, onChanged func(int, float32)) *ConfidenceSlider {
	item := &ConfidenceSlider{
		LabelText: label,
		OnChanged: onChanged,
	}

	item.labelWidget = widget.NewLabel("")
	item.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	item.sliderWidget = widget.NewSlider(models.ConfidenceMin, models.ConfidenceMax)
	item.sliderWidget.Step = 1
	item.sliderWidget.Value = float64(clampPercent(percent))
	item.sliderWidget.OnChanged = func(v float64) {
		item.apply(int(v))
	}

	item.percent = clampPercent(percent)
	item.labelWidget.SetText(item.formatLabel())

	item.ExtendBaseWidget(item)

	return item
}

func (item *ConfidenceSlider) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.sliderWidget,
	)

	return widget.NewSimpleRenderer(c)
}

// SetPercent moves the slider; out of range positions are clamped.
func (item *ConfidenceSlider) SetPercent(v int) {
	v = clampPercent(v)
	item.sliderWidget.SetValue(float64(v))
	item.apply(v)
}

func (item *ConfidenceSlider) Percent() int {
	return item.percent
}

func (item *ConfidenceSlider) Threshold() float32 {
	return models.ConfidenceFromPercent(item.percent)
}

func (item *ConfidenceSlider) Text() string {
	return item.labelWidget.Text
}

func (item *ConfidenceSlider) apply(v int) {
	v = clampPercent(v)
	item.percent = v
	item.labelWidget.SetText(item.formatLabel())

	if item.OnChanged != nil {
		item.OnChanged(v, item.Threshold())
	}
}

func (item *ConfidenceSlider) formatLabel() string {
	return fmt.Sprintf("%s: %s", item.LabelText, models.FormatConfidence(item.Threshold()))
}

func clampPercent(v int) int {
	return min(max(v, models.ConfidenceMin), models.ConfidenceMax)
}
