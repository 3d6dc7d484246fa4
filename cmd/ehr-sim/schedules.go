package main

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

var dayNames = [scheduling.DaysPerWeek]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// scheduleDoc is the YAML form of a work schedule:
//
//   - kind: full_time
//     days:
//   - day: mon
//     blocks: ["09:00-17:00"]
type scheduleDoc struct {
	Kind        string   `yaml:"kind,omitempty"`
	WeeklyHours float64  `yaml:"weekly_hours,omitempty"`
	Days        []dayDoc `yaml:"days"`
}

type dayDoc struct {
	Day    string   `yaml:"day"`
	Blocks []string `yaml:"blocks"`
}

func schedulesCmd() *cobra.Command {
	var (
		kinds []string
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Print work-schedule templates as YAML",
		Long: "Print work-schedule templates in the format accepted by --schedules.\n" +
			"The output can be edited and passed back to run, replicate or serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := scheduling.ScheduleKinds
			if len(kinds) > 0 {
				selected = nil
				for _, k := range kinds {
					kind, err := scheduling.ParseScheduleKind(k)
					if err != nil {
						return err
					}
					selected = append(selected, kind)
				}
			}
			docs, err := renderTemplates(rand.New(rand.NewSource(seed)), selected)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(docs); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Templates to print (default all)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the rotating template")
	return cmd
}

func renderTemplates(rng *rand.Rand, kinds []scheduling.ScheduleKind) ([]scheduleDoc, error) {
	docs := make([]scheduleDoc, 0, len(kinds))
	for _, kind := range kinds {
		ws, err := scheduling.SampleWorkSchedule(rng, kind)
		if err != nil {
			return nil, err
		}
		doc := renderSchedule(ws)
		doc.Kind = string(kind)
		docs = append(docs, doc)
	}
	return docs, nil
}

func renderSchedule(ws scheduling.WorkSchedule) scheduleDoc {
	doc := scheduleDoc{WeeklyHours: float64(ws.WeeklyMinutes()) / 60}
	for day, blocks := range ws {
		if len(blocks) == 0 {
			continue
		}
		d := dayDoc{Day: dayNames[day]}
		for _, b := range blocks {
			d.Blocks = append(d.Blocks, clock(b.Start)+"-"+clock(b.End))
		}
		doc.Days = append(doc.Days, d)
	}
	return doc
}

// parseSchedules reads a YAML list of schedule documents. Kind and
// weekly_hours are informational and ignored.
func parseSchedules(r io.Reader) ([]scheduling.WorkSchedule, error) {
	var docs []scheduleDoc
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no schedules")
	}
	out := make([]scheduling.WorkSchedule, 0, len(docs))
	for i, doc := range docs {
		ws, err := doc.workSchedule()
		if err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if ws.IsEmpty() {
			return nil, fmt.Errorf("schedule %d: no working hours", i)
		}
		out = append(out, ws)
	}
	return out, nil
}

func (doc scheduleDoc) workSchedule() (scheduling.WorkSchedule, error) {
	days := make(map[int][]scheduling.Interval)
	for _, d := range doc.Days {
		day, err := parseDay(d.Day)
		if err != nil {
			return scheduling.WorkSchedule{}, err
		}
		for _, s := range d.Blocks {
			iv, err := parseBlock(s)
			if err != nil {
				return scheduling.WorkSchedule{}, err
			}
			days[day] = append(days[day], iv)
		}
	}
	return scheduling.NewWorkSchedule(days)
}

func parseDay(s string) (int, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, d := range dayNames {
		if strings.HasPrefix(name, d) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", s)
}

// parseBlock parses "HH:MM-HH:MM". The end may be 24:00.
func parseBlock(s string) (scheduling.Interval, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return scheduling.Interval{}, fmt.Errorf("block %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return scheduling.Interval{}, fmt.Errorf("block %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return scheduling.Interval{}, fmt.Errorf("block %q: %w", s, err)
	}
	return scheduling.Interval{Start: start, End: end}, nil
}

func parseClock(s string) (int64, error) {
	var h, m int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > scheduling.MinutesPerDay {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

func clock(minute int64) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
