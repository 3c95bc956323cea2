package main

import (
	"cmp"
	"errors"
	"fmt"
	"html"
	"image/color"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/twpayne/go-kml/v3"
)

// ErrNoLocatedDetections is returned by ExportKML when no retained
// detection carries a GPS fix
var ErrNoLocatedDetections = errors.New("no detections with a GPS fix")

const (
	styleObjects  = "detection-objects"
	styleTextOnly = "detection-text"
	styleTrack    = "track"
	styleBoundary = "session-boundary"
)

// buildDetectionDescription creates HTML description for a detection.
// Matches the lines shown in the TUI list.
func buildDetectionDescription(rec DetectionRecord) string {
	var b strings.Builder
	b.WriteString("<ul>")

	li := func(label, value string) {
		b.WriteString("<li><strong>")
		b.WriteString(label)
		b.WriteString(":</strong> ")
		b.WriteString(html.EscapeString(value))
		b.WriteString("</li>")
	}

	lines := detectionLines(rec)
	li("Received", rec.ReceivedAt.Format("2006-01-02 15:04:05"))
	li("Took", fmt.Sprintf("%.2f secs", rec.TimeTaken))
	li("Texts", strings.TrimPrefix(lines[1], "Texts: "))
	li("Objects", strings.TrimPrefix(lines[2], "Objects: "))
	for _, obj := range rec.Detections {
		if obj.Confidence > 0 {
			li(obj.Object, fmt.Sprintf("%.0f%%", obj.Confidence*100))
		}
	}
	li("Device", rec.DeviceID)
	if rec.Location != nil {
		li("Location", fmt.Sprintf("%.5f, %.5f", rec.Location.Latitude, rec.Location.Longitude))
	}

	b.WriteString("</ul>")
	return b.String()
}

func detectionName(rec DetectionRecord) string {
	if len(rec.Detections) == 0 {
		if rec.Texts != "" {
			return fmt.Sprintf("#%d: %q", rec.Seq, rec.Texts)
		}
		return fmt.Sprintf("#%d", rec.Seq)
	}
	labels := lo.Uniq(lo.Map(rec.Detections, func(o DetectedObject, _ int) string { return o.Object }))
	return fmt.Sprintf("#%d: %s", rec.Seq, strings.Join(labels, ", "))
}

func toCoordinate(loc GeoLocation) kml.Coordinate {
	return kml.Coordinate{
		Lon: loc.Longitude,
		Lat: loc.Latitude,
		Alt: loc.Elevation,
	}
}

func sharedStyles() []kml.Element {
	return []kml.Element{
		kml.SharedStyle(styleObjects,
			kml.IconStyle(kml.Color(color.RGBA{R: 0, G: 255, B: 0, A: 255})),
		),
		kml.SharedStyle(styleTextOnly,
			kml.IconStyle(kml.Color(color.RGBA{R: 255, G: 255, B: 0, A: 255})),
		),
		kml.SharedStyle(styleTrack,
			kml.LineStyle(kml.Color(color.RGBA{R: 0, G: 128, B: 255, A: 255}), kml.Width(3)),
		),
		kml.SharedStyle(styleBoundary,
			kml.LineStyle(kml.Color(color.RGBA{R: 255, G: 0, B: 0, A: 128}), kml.Width(4)),
			kml.PolyStyle(kml.Color(color.RGBA{R: 255, G: 0, B: 0, A: 64})),
		),
	}
}

// ExportKML writes the detections that carry a location to a KML file,
// organized into layers: Detections, Track and Session Boundary
func ExportKML(filename string, records []DetectionRecord) error {
	located := lo.Filter(records, func(rec DetectionRecord, _ int) bool { return rec.Location != nil })
	if len(located) == 0 {
		return ErrNoLocatedDetections
	}

	points := make([]GeoLocation, 0, len(located))
	placemarks := []kml.Element{kml.Name("Detections")}
	for _, rec := range located {
		points = append(points, *rec.Location)

		style := styleObjects
		if len(rec.Detections) == 0 {
			style = styleTextOnly
		}
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(detectionName(rec)),
			kml.Description(buildDetectionDescription(rec)),
			kml.TimeStamp(kml.When(rec.ReceivedAt)),
			kml.StyleURL("#"+style),
			kml.Point(kml.Coordinates(toCoordinate(*rec.Location))),
		))
	}

	docElements := []kml.Element{
		kml.Name(fmt.Sprintf("Detections - %s", time.Now().Format("2006-01-02 15:04:05"))),
	}
	docElements = append(docElements, sharedStyles()...)
	docElements = append(docElements, kml.Folder(placemarks...))

	if track := smoothPath(dedupeConsecutive(points)); len(track) >= 2 {
		coords := lo.Map(track, func(loc GeoLocation, _ int) kml.Coordinate { return toCoordinate(loc) })
		docElements = append(docElements, kml.Folder(
			kml.Name("Track"),
			kml.Placemark(
				kml.Name("Track"),
				kml.StyleURL("#"+styleTrack),
				kml.LineString(kml.Coordinates(coords...)),
			),
		))
	}

	if boundary := createSessionBoundary(points); boundary != nil {
		docElements = append(docElements, kml.Folder(kml.Name("Session Boundary"), boundary))
	}

	doc := kml.KML(kml.Document(docElements...))

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := doc.WriteIndent(file, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

// dedupeConsecutive drops repeated fixes while the wearer stands still
func dedupeConsecutive(points []GeoLocation) []GeoLocation {
	out := make([]GeoLocation, 0, len(points))
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Latitude == p.Latitude && out[n-1].Longitude == p.Longitude {
			continue
		}
		out = append(out, p)
	}
	return out
}

// computeConvexHull returns the convex hull of points in counter-clockwise
// order using Andrew's monotone chain
func computeConvexHull(points []GeoLocation) []GeoLocation {
	sorted := slices.Clone(points)
	slices.SortFunc(sorted, func(a, b GeoLocation) int {
		return cmp.Or(cmp.Compare(a.Longitude, b.Longitude), cmp.Compare(a.Latitude, b.Latitude))
	})
	sorted = slices.CompactFunc(sorted, func(a, b GeoLocation) bool {
		return a.Longitude == b.Longitude && a.Latitude == b.Latitude
	})
	if len(sorted) < 3 {
		return sorted
	}

	hull := make([]GeoLocation, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && !isCounterClockwise(hull[len(hull)-2], hull[len(hull)-1], p) {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && !isCounterClockwise(hull[len(hull)-2], hull[len(hull)-1], p) {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// last point repeats the first
	return hull[:len(hull)-1]
}

// isCounterClockwise checks if three points make a counter-clockwise turn
func isCounterClockwise(p1, p2, p3 GeoLocation) bool {
	return (p2.Longitude-p1.Longitude)*(p3.Latitude-p1.Latitude)-
		(p2.Latitude-p1.Latitude)*(p3.Longitude-p1.Longitude) > 0
}

// smoothPath applies Ramer-Douglas-Peucker to simplify a path
func smoothPath(points []GeoLocation) []GeoLocation {
	if len(points) <= 2 {
		return points
	}
	// In degrees; ~0.0001 degrees ≈ 11 meters at equator
	const epsilon = 0.0001
	return douglasPeucker(points, epsilon)
}

func douglasPeucker(points []GeoLocation, epsilon float64) []GeoLocation {
	if len(points) <= 2 {
		return points
	}

	dmax := 0.0
	index := 0
	end := len(points) - 1
	for i := 1; i < end; i++ {
		d := perpendicularDistance(points[i], points[0], points[end])
		if d > dmax {
			index = i
			dmax = d
		}
	}

	if dmax > epsilon {
		left := douglasPeucker(points[:index+1], epsilon)
		right := douglasPeucker(points[index:], epsilon)

		// drop the shared middle point
		result := make([]GeoLocation, 0, len(left)+len(right)-1)
		result = append(result, left...)
		result = append(result, right[1:]...)
		return result
	}

	return []GeoLocation{points[0], points[end]}
}

// perpendicularDistance is the planar distance from point to the line
// through lineStart and lineEnd, in degrees
func perpendicularDistance(point, lineStart, lineEnd GeoLocation) float64 {
	x, y := point.Longitude, point.Latitude
	x1, y1 := lineStart.Longitude, lineStart.Latitude
	x2, y2 := lineEnd.Longitude, lineEnd.Latitude

	dx := x2 - x1
	dy := y2 - y1
	if dx == 0 && dy == 0 {
		return math.Hypot(x-x1, y-y1)
	}

	numerator := dy*x - dx*y + x2*y1 - y2*x1
	if numerator < 0 {
		numerator = -numerator
	}
	return numerator / math.Hypot(dx, dy)
}

// findNonCollidingFilename finds a filename that doesn't exist
// Format: prefix-{i}.ext where i starts at 1 and increments until no collision
func findNonCollidingFilename(prefix, ext string) string {
	path := prefix + ext
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	for i := 1; i < 10000; i++ {
		path = fmt.Sprintf("%s-%d%s", prefix, i, ext)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}

	return fmt.Sprintf("%s-%d%s", prefix, time.Now().Unix(), ext)
}

// createSessionBoundary creates a polygon around every located detection
func createSessionBoundary(allPoints []GeoLocation) kml.Element {
	hull := computeConvexHull(allPoints)
	if len(hull) < 3 {
		return nil
	}

	coords := make([]kml.Coordinate, len(hull)+1)
	for i, loc := range hull {
		coords[i] = toCoordinate(loc)
	}
	// Close the polygon
	coords[len(hull)] = coords[0]

	description := fmt.Sprintf(
		"<ul><li><strong>Located Detections:</strong> %d</li><li><strong>Boundary Points:</strong> %d</li><li><strong>Exported:</strong> %s</li></ul>",
		len(allPoints),
		len(hull),
		time.Now().Format("2006-01-02 15:04:05"),
	)

	return kml.Placemark(
		kml.Name("Session Area"),
		kml.Description(description),
		kml.StyleURL("#"+styleBoundary),
		kml.Polygon(
			kml.OuterBoundaryIs(
				kml.LinearRing(
					kml.Coordinates(coords...),
				),
			),
		),
	)
}
