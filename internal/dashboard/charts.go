// Package dashboard renders per-job charts over the collected records.
package dashboard

import (
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/qepting91/trendit/internal/analytics"
	"github.com/qepting91/trendit/internal/domain"
)

// Render writes the job dashboard: subreddit dominance, keyword velocity
// and sentiment distribution.
func Render(w http.ResponseWriter, job domain.CollectionJob, posts []domain.Post, comments []domain.Comment) {
	summary := analytics.Summarize(posts, comments, job.Spec.Keywords)

	// 1. Subreddit Dominance
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Subreddit Dominance",
			Subtitle: "job " + job.ID,
		}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	var pieItems []opts.PieData
	for sub, count := range summary.PostsPerSubreddit {
		pieItems = append(pieItems, opts.PieData{Name: sub, Value: count})
	}
	pie.AddSeries("Posts", pieItems)

	// 2. Keyword Velocity
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Keyword Velocity"}))
	var barX []string
	var barY []opts.BarData
	for k, v := range summary.KeywordHits {
		barX = append(barX, k)
		barY = append(barY, opts.BarData{Value: v})
	}
	bar.SetXAxis(barX).AddSeries("Mentions", barY)

	// 3. Sentiment Distribution
	sentiment := charts.NewBar()
	sentiment.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Sentiment Distribution"}))
	var sentX []string
	var sentY []opts.BarData
	for _, bucket := range []string{"negative", "neutral", "positive"} {
		sentX = append(sentX, bucket)
		sentY = append(sentY, opts.BarData{Value: summary.SentimentBuckets[bucket]})
	}
	sentiment.SetXAxis(sentX).AddSeries("Records", sentY)

	pie.Render(w)
	bar.Render(w)
	sentiment.Render(w)
}
