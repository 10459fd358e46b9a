package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"sentra/internal/lesson"
	"sentra/internal/logger"
)

// 中文说明：
// 形态绩效报表。把教训聚合渲染成一页静态 HTML（得分、胜率、平均 R），
// 供人工复盘使用，不参与任何决策路径。

// Render 把教训集合渲染为 HTML 写入 w。
func Render(w io.Writer, lessons []lesson.Lesson) error {
	page := components.NewPage()
	page.PageTitle = "Pattern performance"
	page.AddCharts(scoreChart(lessons), winRateChart(lessons), avgRChart(lessons))
	return page.Render(w)
}

// WriteFile 渲染到文件。
func WriteFile(path string, lessons []lesson.Lesson) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer f.Close()
	if err := Render(f, lessons); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	logger.Infof("[report] 已生成 %s (%d 个形态)", path, len(lessons))
	return nil
}

func patternNames(lessons []lesson.Lesson) []string {
	out := make([]string, len(lessons))
	for i, l := range lessons {
		out[i] = string(l.PatternID)
	}
	return out
}

func scoreChart(lessons []lesson.Lesson) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Pattern score",
			Subtitle: "sample-weighted, 0.5 is neutral",
		}),
	)
	values := make([]opts.BarData, len(lessons))
	for i, l := range lessons {
		values[i] = opts.BarData{Value: round3(l.Score)}
	}
	bar.SetXAxis(patternNames(lessons)).AddSeries("score", values)
	return bar
}

func winRateChart(lessons []lesson.Lesson) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Win rate"}))
	values := make([]opts.BarData, len(lessons))
	for i, l := range lessons {
		values[i] = opts.BarData{Value: round3(l.WinRate)}
	}
	bar.SetXAxis(patternNames(lessons)).AddSeries("win rate", values)
	return bar
}

func avgRChart(lessons []lesson.Lesson) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title:    "Average R",
		Subtitle: "per closed trade",
	}))
	values := make([]opts.BarData, len(lessons))
	for i, l := range lessons {
		values[i] = opts.BarData{Value: round3(l.AvgR)}
	}
	bar.SetXAxis(patternNames(lessons)).AddSeries("avg R", values)
	return bar
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
