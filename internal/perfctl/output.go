package perfctl

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/okian/medrank/internal/domain/types"
)

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printRefresh(w io.Writer, r types.RefreshResponse) error {
	switch r.Status {
	case "queued":
		_, err := fmt.Fprintf(w, "refresh queued: %s\n", r.RequestID)
		return err
	case "already_queued":
		_, err := fmt.Fprintln(w, "an identical refresh is already queued")
		return err
	}
	tw := table(w)
	fmt.Fprintln(tw, "PERIOD\tSEGMENTS\tFAILED\tSCANNED\tDROPPED\tPRIOR\tDURATION")
	for _, rep := range r.Reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\tv%d\t%dms\n",
			rep.Period, rep.Segments, len(rep.FailedSegments), rep.Scanned, rep.Dropped, rep.PriorVersion, rep.DurationMs)
	}
	return tw.Flush()
}

func printPrior(w io.Writer, p types.Prior) error {
	_, err := fmt.Fprintf(w,
		"global prior v%d (%d leads, %s)\n  interest   %.4f\n  booking    %.4f\n  completion %.4f\n",
		p.Version, p.SampleSize, p.CalculatedAt.Format("2006-01-02 15:04"),
		p.InterestRate, p.BookingRate, p.CompletionRate)
	return err
}

func printCard(w io.Writer, c types.HospitalCard) error {
	if c.Headline != nil {
		fmt.Fprintf(w, "hospital %d: %s (score %.4f, confidence %.0f%%, %d leads in last_30d)\n",
			c.HospitalID, c.Grade, c.Headline.BayesianScore, c.Headline.ConfidenceLevel*100, c.Headline.SampleSize)
	} else {
		fmt.Fprintf(w, "hospital %d: no overall row for last_30d\n", c.HospitalID)
	}

	periods := make([]string, 0, len(c.Periods))
	for p := range c.Periods {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	tw := table(w)
	fmt.Fprintln(tw, "PERIOD\tSEGMENT\tSENT\tBOOKED\tBOOKING\tSCORE\tCONFIDENCE")
	for _, p := range periods {
		for _, s := range c.Periods[p] {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.4f\t%.4f\t%.4f\n",
				p, segmentLabel(s), s.LeadsSent, s.LeadsBooked, s.BookingRate, s.BayesianScore, s.ConfidenceLevel)
		}
	}
	return tw.Flush()
}

func printRecommendation(w io.Writer, r types.Recommendation) error {
	if !r.HasData {
		_, err := fmt.Fprintln(w, "no performance data for this combination")
		return err
	}
	return printEntries(w, r.Hospitals)
}

func printDashboard(w io.Writer, d types.Dashboard) error {
	fmt.Fprintf(w, "dashboard %s\n", d.Period)
	return printEntries(w, d.Hospitals)
}

func printEntries(w io.Writer, es []types.Entry) error {
	tw := table(w)
	fmt.Fprintln(tw, "RANK\tHOSPITAL\tSCORE\tCONFIDENCE\tLEADS\tTIER")
	for _, e := range es {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\t%d\t%s\n",
			e.Rank, e.HospitalID, e.BayesianScore, e.ConfidenceLevel, e.SampleSize, e.Tier)
	}
	return tw.Flush()
}

func printSimulation(w io.Writer, s types.Simulation) error {
	tw := table(w)
	fmt.Fprintln(tw, "SCENARIO\tBOOKED\tRAW\tSCORE\tCONFIDENCE")
	for _, o := range s.Scenarios {
		fmt.Fprintf(tw, "%s\t%d/%d\t%.4f\t%.4f\t%.4f\n", o.Name, o.Success, o.Total, o.RawRate, o.Score, o.Confidence)
	}
	return tw.Flush()
}

func segmentLabel(s types.Stat) string {
	switch {
	case s.TreatmentID != nil:
		return fmt.Sprintf("treatment=%d", *s.TreatmentID)
	case s.Country != nil:
		return "country=" + *s.Country
	case s.Language != nil:
		return "language=" + *s.Language
	default:
		return "overall"
	}
}
