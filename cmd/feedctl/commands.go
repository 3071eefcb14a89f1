package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/geofeed/geofeed/internal/feed"
	"github.com/geofeed/geofeed/internal/geo"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

const usage = `commands:
  mount                 acquire location and run the first query
  locate                re-acquire the device location
  default               use the default location
  move LAT LNG          pan the map (debounced)
  radius KM             select a radius preset
  more                  step to the next larger preset
  smart                 toggle smart radius
  search TEXT...        set the search text ("search" alone clears it)
  category ID           set the category ("category" alone clears it)
  retry                 retry the failed location or query
  tap ID                click a marker
  row ID                select a list row
  clear                 clear the selection
  drag FROM_Y TO_Y      drag the panel handle
  expand                toggle the panel between half and full
  state                 print the feed state
  reset                 reset the session
  presets               list radius presets
  quit                  exit`

// execute runs one command line against f.
func execute(ctx context.Context, f *feed.Feed, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "mount":
		return f.Mount(ctx)
	case "locate":
		return f.Relocate(ctx)
	case "default":
		return f.UseDefaultLocation()
	case "move":
		lat, lng, err := twoFloats(args)
		if err != nil {
			return err
		}
		f.OnMapMove(lat, lng)
	case "radius":
		km, err := oneFloat(args)
		if err != nil {
			return err
		}
		return f.SelectRadius(km)
	case "more":
		return f.IncreaseRadius()
	case "smart":
		fmt.Fprintf(out, "smart radius: %t\n", f.ToggleSmartRadius())
	case "search":
		f.SetSearchText(strings.Join(args, " "))
	case "category":
		f.SetCategory(strings.Join(args, " "))
	case "retry":
		return f.Retry(ctx)
	case "tap":
		id, err := oneString(args)
		if err != nil {
			return err
		}
		f.OnMarkerClick(id)
	case "row":
		id, err := oneString(args)
		if err != nil {
			return err
		}
		f.SelectRow(id)
	case "clear":
		f.ClearSelection()
	case "drag":
		from, to, err := twoFloats(args)
		if err != nil {
			return err
		}
		f.BeginDrag(from)
		fmt.Fprintf(out, "panel: %s\n", f.EndDrag(to))
	case "expand":
		fmt.Fprintf(out, "panel: %s\n", f.ToggleExpand())
	case "state":
		printState(out, f.State())
	case "reset":
		f.Reset()
	case "presets":
		parts := make([]string, 0, len(f.Presets()))
		for _, p := range f.Presets() {
			parts = append(parts, geo.FormatRadius(p))
		}
		fmt.Fprintln(out, strings.Join(parts, ", "))
	case "help":
		fmt.Fprintln(out, usage)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func printState(out io.Writer, st feed.State) {
	g := st.Geo
	where := "no location"
	if g.Coordinates != nil {
		where = g.Coordinates.String()
		if g.CityName != "" {
			where += " (" + g.CityName + ")"
		}
	}

	fmt.Fprintf(out, "location: %s [%s]\n", where, g.Status)
	fmt.Fprintf(out, "radius:   %s smart=%t\n", geo.FormatRadius(g.RadiusKm), g.SmartRadius)
	fmt.Fprintf(out, "panel:    %s (%d%%)\n", st.Panel, st.ViewportPercent)

	switch {
	case st.Blocked():
		fmt.Fprintf(out, "blocked:  %v (retry or default)\n", st.LocateError)
		return
	case st.Loading:
		fmt.Fprintln(out, "loading...")
	}
	if st.QueryError != nil {
		fmt.Fprintf(out, "error:    %v (retry)\n", st.QueryError)
	}

	switch st.Empty {
	case feed.EmptyEscalating:
		fmt.Fprintln(out, "nothing here yet, widening the search")
	case feed.EmptyNoResults:
		fmt.Fprintln(out, "no listings nearby (more to widen)")
	}

	for _, s := range st.Listings {
		marker := " "
		if s.ID == st.SelectedID {
			marker = "*"
		}
		dist := "?"
		if s.DistanceKm != nil {
			dist = strconv.FormatFloat(*s.DistanceKm, 'f', 2, 64) + " km"
		}
		fmt.Fprintf(out, "%s %-12s %-20s %8.2f  %s\n", marker, s.ID, s.Title, s.Price, dist)
	}
}

func oneString(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected one argument")
	}
	return args[0], nil
}

func oneFloat(args []string) (float64, error) {
	s, err := oneString(args)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func twoFloats(args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("expected two numbers")
	}
	a, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
