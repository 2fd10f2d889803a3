package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/request"
	"tidbyt.dev/departureboard/synthese"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <filter>",
	Short: "Lists departures from the stop points matching a filter",
	Long: `Lists departures from the stop points matching a filter, e.g.

  departureboard departures 'stop_area.id == "central"' --duration PT1H`,
	Args: cobra.ExactArgs(1),
	RunE: departures,
}

var (
	fromDateTime  string
	untilDateTime string
	duration      string
	maxCount      int
	count         int
	startPage     int
	depth         int
	itemsPerPoint int
	rtLevel       string
	calendarID    string
	forbiddenIDs  []string
)

func init() {
	departuresCmd.Flags().StringVarP(&fromDateTime, "from", "f", "", "Start of the board (YYYYMMDDTHHMMSS), defaults to now")
	departuresCmd.Flags().StringVarP(&untilDateTime, "until", "u", "", "End of the board (YYYYMMDDTHHMMSS)")
	departuresCmd.Flags().StringVarP(&duration, "duration", "W", "", "Length of the board, e.g. PT30M or 30m")
	departuresCmd.Flags().IntVarP(&maxCount, "max-count", "l", 0, "Maximum number of departures")
	departuresCmd.Flags().IntVarP(&count, "count", "n", 0, "Page size")
	departuresCmd.Flags().IntVarP(&startPage, "page", "p", 0, "Page index")
	departuresCmd.Flags().IntVarP(&depth, "depth", "d", 0, "Number of service days to look ahead")
	departuresCmd.Flags().IntVarP(&itemsPerPoint, "items-per-point", "", -1, "Maximum departures per stop point and route")
	departuresCmd.Flags().StringVarP(&rtLevel, "rt-level", "", "", "base_schedule, adapted or realtime")
	departuresCmd.Flags().StringVarP(&calendarID, "calendar", "", "", "Calendar to report line closures against")
	departuresCmd.Flags().StringSliceVarP(&forbiddenIDs, "forbid", "", []string{}, "Stop, stop area, route or line to exclude")
}

// Request options from config defaults and flags.
func requestOptions() (request.Options, error) {
	opts := request.DefaultOptions()
	opts.Depth = cfg.Engine.Depth
	opts.Count = cfg.Engine.Count
	opts.ItemsPerPoint = cfg.Engine.ItemsPerPoint
	opts.RTLevel = cfg.RTLevel()

	if count != 0 {
		opts.Count = count
	}
	if depth != 0 {
		opts.Depth = depth
	}
	if itemsPerPoint >= 0 {
		opts.ItemsPerPoint = itemsPerPoint
	}
	if rtLevel != "" {
		level, ok := model.ParseRTLevel(rtLevel)
		if !ok {
			return opts, fmt.Errorf("unknown rt level '%s'", rtLevel)
		}
		opts.RTLevel = level
	}
	opts.StartPage = startPage
	opts.CalendarID = calendarID
	opts.ForbiddenIDs = forbiddenIDs

	return opts, nil
}

func departures(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	filter := args[0]

	opts, err := requestOptions()
	if err != nil {
		return err
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}

	static, err := loadStatic(ctx, manager, cfg)
	if err != nil {
		return fmt.Errorf("loading static feed: %w", err)
	}

	var passages *synthese.Client
	if opts.RTLevel == model.RTLevelRealtime {
		passages, err = newPassageSource(cfg)
		if err != nil {
			return err
		}
	}

	router, err := loadRouter(ctx, manager, cfg, static, passages)
	if err != nil {
		return fmt.Errorf("loading realtime feeds: %w", err)
	}

	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	engine, err := manager.LoadEngine(static, router, engineConfig)
	if err != nil {
		return err
	}

	env := engine.Env()
	from := fromDateTime
	if from == "" {
		from = static.Relative(time.Now()).Format(static.Production())
	}

	var d *request.Descriptor
	if duration != "" {
		window, err := clock.ParseWindow(duration)
		if err != nil {
			return err
		}
		dt, err := clock.ParseTime(from, env.Production)
		if err != nil {
			return err
		}
		d = request.Board("departures", filter, dt, window, opts, env)
	} else {
		limit := request.Unbounded
		if maxCount > 0 {
			limit = maxCount
		}
		d = request.Departures("departures", filter, from, untilDateTime, limit, opts, env)
	}

	result, err := engine.Execute(ctx, d)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("%s", result.Error)
	}

	for _, f := range result.Failures {
		fmt.Printf("! %s\n", f)
	}

	for _, dep := range result.Departures {
		flags := []string{dep.RTLevel.String()}
		if dep.Delay != 0 {
			flags = append(flags, fmt.Sprintf("%+ds", int(dep.Delay/time.Second)))
		}
		if dep.Closed {
			flags = append(flags, "closed")
		}
		fmt.Printf(
			"%s %-8s %-12s %s (%s)\n",
			static.Absolute(dep.Time).Format("2006-01-02 15:04"),
			dep.LineID,
			dep.StopID,
			dep.Headsign,
			strings.Join(flags, ", "),
		)
	}

	p := result.Pagination
	fmt.Printf("page %d, %d of %d departures\n", p.StartPage, p.ItemsOnPage, p.TotalResult)

	return nil
}
