package trend_test

import (
	"testing"

	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/internal/domain/trend"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAnalyzer_Analyze(t *testing.T) {
	Convey("Given an analyzer with default tuning", t, func() {
		a := trend.NewAnalyzer()

		Convey("When there are fewer than two points", func() {
			Convey("Then the trend should degrade to neutral", func() {
				So(a.Analyze(nil), ShouldResemble, model.NeutralTrend())
				So(a.Analyze([]float64{50}), ShouldResemble, model.NeutralTrend())
			})
		})

		Convey("When scores climb steadily, most recent first", func() {
			// Chronologically 60, 63, 66, 69, 72: +3 points per day.
			tr := a.Analyze([]float64{72, 69, 66, 63, 60})

			Convey("Then the slope should be positive points per day", func() {
				So(tr.Slope, ShouldAlmostEqual, 3.0, 1e-9)
				So(tr.Direction, ShouldEqual, model.TrendRising)
			})
		})

		Convey("When scores fall steadily", func() {
			tr := a.Analyze([]float64{60, 63, 66, 69, 72})

			Convey("Then the slope should mirror negative", func() {
				So(tr.Slope, ShouldAlmostEqual, -3.0, 1e-9)
				So(tr.Direction, ShouldEqual, model.TrendDeclining)
			})
		})

		Convey("When the movement stays within the cutoff", func() {
			// +2 points per day sits exactly at the cutoff: not beyond it.
			tr := a.Analyze([]float64{58, 56, 54, 52, 50})

			Convey("Then the direction should be stable", func() {
				So(tr.Slope, ShouldAlmostEqual, 2.0, 1e-9)
				So(tr.Direction, ShouldEqual, model.TrendStable)
			})
		})

		Convey("When scores are flat", func() {
			tr := a.Analyze([]float64{50, 50, 50})

			Convey("Then the slope should be zero and stable", func() {
				So(tr.Slope, ShouldAlmostEqual, 0.0, 1e-9)
				So(tr.Direction, ShouldEqual, model.TrendStable)
			})
		})

		Convey("Then confidence should always be in [0, 1]", func() {
			cases := [][]float64{
				{72, 69, 66, 63, 60},
				{95, 10, 95, 10, 95},
				{50, 50},
				{100, 0},
			}
			for _, scores := range cases {
				tr := a.Analyze(scores)
				So(tr.Confidence, ShouldBeGreaterThanOrEqualTo, 0.0)
				So(tr.Confidence, ShouldBeLessThanOrEqualTo, 1.0)
			}
		})

		Convey("Then steadier series far from a threshold should carry more confidence", func() {
			calmFar := a.Analyze([]float64{95, 95, 95, 95})
			choppyNear := a.Analyze([]float64{71, 45, 71, 45})
			So(calmFar.Confidence, ShouldBeGreaterThan, choppyNear.Confidence)
		})
	})

	Convey("Given an analyzer with a custom slope cutoff", t, func() {
		a := trend.NewAnalyzer(trend.WithSlopeCutoff(0.5))

		Convey("Then gentler movement should register as directional", func() {
			tr := a.Analyze([]float64{53, 52, 51, 50})
			So(tr.Slope, ShouldAlmostEqual, 1.0, 1e-9)
			So(tr.Direction, ShouldEqual, model.TrendRising)
		})
	})
}
