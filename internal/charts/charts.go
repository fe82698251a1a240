// Package charts renders the rolling performance histories as PNG images.
package charts

import (
	"errors"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// ErrNotEnoughData is returned when a history has fewer than two samples.
var ErrNotEnoughData = errors.New("charts: need at least two samples")

// Size of rendered charts.
type Size struct {
	Width, Height int
}

// DefaultSize fits the dashboard's performance panel.
var DefaultSize = Size{Width: 800, Height: 300}

type line struct {
	name   string
	values []float64
}

// RenderModel draws FPS and inference time (ms) over the model history.
func RenderModel(w io.Writer, history []model.ModelMetrics, size Size) error {
	if len(history) < 2 {
		return ErrNotEnoughData
	}
	xs := make([]time.Time, len(history))
	fps := make([]float64, len(history))
	inference := make([]float64, len(history))
	for i, m := range history {
		xs[i] = sampleTime(m.Timestamp, i)
		fps[i] = m.FPS
		inference[i] = m.InferenceTime
	}
	return render(w, "Model performance", "FPS / ms", xs, size,
		line{"FPS", fps}, line{"Inference (ms)", inference})
}

// RenderSystem draws CPU, RAM and GPU usage percentages over the system
// history.
func RenderSystem(w io.Writer, history []model.SystemMetrics, size Size) error {
	if len(history) < 2 {
		return ErrNotEnoughData
	}
	xs := make([]time.Time, len(history))
	cpu := make([]float64, len(history))
	ram := make([]float64, len(history))
	gpu := make([]float64, len(history))
	for i, m := range history {
		xs[i] = sampleTime(m.Timestamp, i)
		cpu[i] = m.CPU
		ram[i] = m.RAM
		gpu[i] = m.GPU
	}
	return render(w, "System resources", "Usage (%)", xs, size,
		line{"CPU", cpu}, line{"RAM", ram}, line{"GPU", gpu})
}

// sampleTime keeps the x axis strictly usable when samples lack a
// timestamp by spacing them one second apart.
func sampleTime(ts model.Timestamp, i int) time.Time {
	if ts.IsZero() {
		return time.Unix(int64(i), 0)
	}
	return ts.Time
}

func render(w io.Writer, title, yName string, xs []time.Time, size Size, lines ...line) error {
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultSize
	}
	if !xs[len(xs)-1].After(xs[0]) {
		for i := range xs {
			xs[i] = time.Unix(int64(i), 0)
		}
	}
	series := make([]chart.Series, 0, len(lines))
	for i, l := range lines {
		series = append(series, chart.TimeSeries{
			Name: l.name,
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(i),
				StrokeWidth: 2,
			},
			XValues: xs,
			YValues: l.values,
		})
	}

	graph := chart.Chart{
		Title:      title,
		TitleStyle: chart.Style{FontSize: 14},
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		Width:  size.Width,
		Height: size.Height,
		XAxis: chart.XAxis{
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    9,
			},
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
		},
		YAxis: chart.YAxis{
			Name:      yName,
			NameStyle: chart.Style{FontSize: 10},
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    9,
			},
			GridMajorStyle: chart.Style{
				StrokeColor: drawing.Color{R: 200, G: 200, B: 200, A: 255},
				StrokeWidth: 1.0,
			},
		},
		Series: series,
	}
	if lo, hi := bounds(lines); lo == hi {
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func bounds(lines []line) (lo, hi float64) {
	first := true
	for _, l := range lines {
		for _, v := range l.values {
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return lo, hi
}
