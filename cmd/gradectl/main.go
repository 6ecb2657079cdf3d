// Command gradectl looks up report cards and cohort statistics from a sheet
// file or feed URL without running the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/boletin/backend/internal/aggregation"
	"github.com/boletin/backend/internal/feed"
	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/ingestion"
	"github.com/boletin/backend/internal/query"
	"github.com/boletin/backend/internal/store"
	"github.com/boletin/backend/pkg/utils"
)

func main() {
	file := flag.String("file", "", "path to a CSV or HTML export of the sheet")
	url := flag.String("url", os.Getenv("BOLETIN_FEED_URL"), "feed URL of the published sheet")
	format := flag.String("format", "auto", "sheet format: csv, html or auto")
	timeout := flag.Duration("timeout", 30*time.Second, "feed request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := load(ctx, *file, *url, ingestion.Format(*format), *timeout)
	if err != nil {
		color.Red("Failed to load sheet: %v", err)
		os.Exit(1)
	}

	engine := query.NewEngine(st, grading.NewClassifier(grading.DefaultRules()))

	switch flag.Arg(0) {
	case "lookup":
		if flag.NArg() < 2 {
			color.Red("lookup needs a student ID")
			os.Exit(2)
		}
		err = lookup(ctx, engine, flag.Arg(1))
	case "stats":
		err = stats(ctx, engine)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: gradectl [flags] lookup <id> | stats\n\n")
	flag.PrintDefaults()
}

func load(ctx context.Context, file, url string, format ingestion.Format, timeout time.Duration) (*store.Store, error) {
	var (
		body        []byte
		contentType string
		source      string
		err         error
	)

	switch {
	case file != "":
		body, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		source = file
	case url != "":
		doc, err := feed.NewClient(feed.Config{URL: url, Timeout: timeout, CacheBust: true}).Fetch(ctx)
		if err != nil {
			return nil, err
		}
		body, contentType, source = doc.Body, doc.ContentType, doc.URL
	default:
		return nil, errors.New("either -file or -url is required")
	}

	if format == ingestion.FormatAuto {
		format = ingestion.DetectFormat(contentType, body)
	}
	result, err := ingestion.Parse(format, body)
	if err != nil {
		return nil, err
	}
	if result.Dropped > 0 {
		color.Yellow("Skipped %d rows without %s", result.Dropped, ingestion.ColStudentID)
	}

	st := store.New()
	st.Replace(&store.Snapshot{
		Records:     result.Records,
		LoadedAt:    time.Now(),
		ContentHash: utils.ContentHash(body),
		Source:      source,
	})
	return st, nil
}

func lookup(ctx context.Context, engine *query.Engine, id string) error {
	result, err := engine.Lookup(ctx, id)
	var notFound *query.NotFoundError
	switch {
	case errors.As(err, &notFound):
		color.Red("No student matches %q", notFound.Identifier)
		if len(notFound.Suggestions) > 0 {
			color.Yellow("Similar IDs: %s", strings.Join(notFound.Suggestions, ", "))
		}
		return err
	case err != nil:
		color.Red("Lookup failed: %v", err)
		return err
	}

	s := result.Student
	color.Cyan("\n%s (%s)", s.Name, s.StudentID)
	fmt.Printf("%s %s %s  %s\n", s.Level, s.Course, s.Section, s.Period)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Subject", "T1", "T2", "T3", "Average", "Status"})
	for _, row := range result.Rows {
		table.Append([]string{
			row.Subject,
			row.Periods[0].Label,
			row.Periods[1].Label,
			row.Periods[2].Label,
			row.Average.Label,
			row.Status.Label,
		})
	}
	table.Render()

	color.Green("Overall average: %s", result.Average)
	return nil
}

func stats(ctx context.Context, engine *query.Engine) error {
	st, err := engine.Statistics(ctx)
	if err != nil {
		color.Red("Statistics failed: %v", err)
		return err
	}

	color.Cyan("\n%d records, %d students, %d subjects",
		st.Totals.Records, st.Totals.UniqueStudents, st.Totals.Subjects)

	color.Yellow("\nTop students")
	renderStudents(st.Top)

	color.Yellow("\nBottom students")
	renderStudents(st.Bottom)

	color.Yellow("\nCourse averages")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Course", "Students", "Average"})
	for _, c := range st.Courses {
		table.Append([]string{c.Course, strconv.Itoa(c.StudentCount), c.Average.String()})
	}
	table.Render()

	color.Yellow("\nSubject averages")
	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Subject", "Grades", "Average", "Teachers"})
	for _, s := range st.Subjects {
		table.Append([]string{s.Subject, strconv.Itoa(s.GradeCount), s.Average.String(), strings.Join(s.Teachers, ", ")})
	}
	table.Render()

	color.Yellow("\nTeachers: %d", len(st.Teachers))
	return nil
}

func renderStudents(students []aggregation.StudentAggregate) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Course", "Average"})
	for _, s := range students {
		table.Append([]string{
			s.StudentID,
			s.Name,
			aggregation.CourseKey(s.Course, s.Section),
			s.Average.String(),
		})
	}
	table.Render()
}
