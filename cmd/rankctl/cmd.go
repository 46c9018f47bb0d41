package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/courserank/ranking-engine/internal/snapshot"
	"github.com/courserank/ranking-engine/internal/store"
)

var (
	migrateFunc = store.Migrate // mockable

	errHelp = errors.New("help provided")
)

type refresher interface {
	RefreshAll(ctx context.Context) (*snapshot.Summary, error)
}

type summarySender interface {
	Send(ctx context.Context) (int, error)
}

type purger interface {
	DeleteCourseData(ctx context.Context, courseID int64) error
	DeleteUserData(ctx context.Context, userID int64, courseID *int64) ([]int64, error)
}

type commandLine struct {
	databaseURL string
	refresher   refresher
	weekly      summarySender
	purger      purger
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]             - run schema migrations (up, down, status, version, ...)")
	fmt.Fprintln(cli.out, "  refresh                            - rebuild the ranking snapshot of every course")
	fmt.Fprintln(cli.out, "  weekly-summary                     - send every ranked student their position")
	fmt.Fprintln(cli.out, "  purge-course -course ID            - delete all points data of a course")
	fmt.Fprintln(cli.out, "  purge-user -user ID [-course ID]   - delete a user's points data")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	purgeCourseCmd := flag.NewFlagSet("purge-course", flag.ContinueOnError)
	purgeCourseCmd.SetOutput(cli.out)
	purgeCourseID := purgeCourseCmd.Int64("course", 0, "The course whose points data is deleted.")

	purgeUserCmd := flag.NewFlagSet("purge-user", flag.ContinueOnError)
	purgeUserCmd.SetOutput(cli.out)
	purgeUserID := purgeUserCmd.Int64("user", 0, "The user whose points data is deleted.")
	purgeUserCourse := purgeUserCmd.Int64("course", 0, "Restrict the deletion to one course (default: every course).")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			fmt.Fprintln(cli.out, "Usage: migrate up|up-by-one|up-to VERSION|down|down-to VERSION|redo|reset|status|version")
			return errHelp
		}
		return cli.migrate(ctx, args[2:])
	case "refresh":
		return cli.refresh(ctx)
	case "weekly-summary":
		return cli.weeklySummary(ctx)
	case "purge-course":
		if err := purgeCourseCmd.Parse(args[2:]); err != nil {
			return parseErr(err)
		}
		if *purgeCourseID <= 0 {
			purgeCourseCmd.Usage()
			return errHelp
		}
		return cli.purgeCourse(ctx, *purgeCourseID)
	case "purge-user":
		if err := purgeUserCmd.Parse(args[2:]); err != nil {
			return parseErr(err)
		}
		if *purgeUserID <= 0 || *purgeUserCourse < 0 {
			purgeUserCmd.Usage()
			return errHelp
		}
		var courseID *int64
		if *purgeUserCourse > 0 {
			courseID = purgeUserCourse
		}
		return cli.purgeUser(ctx, *purgeUserID, courseID)
	default:
		cli.printUsage()
		return errHelp
	}
}

func parseErr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return errHelp
	}
	return err
}

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if cli.databaseURL == "" {
		return errors.New("DATABASE_URL is required to migrate")
	}
	return migrateFunc(ctx, cli.databaseURL, args[0], args[1:]...)
}

func (cli *commandLine) refresh(ctx context.Context) error {
	sum, err := cli.refresher.RefreshAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "refreshed %d courses (%d rows) in %s\n", sum.Courses, sum.Rows, sum.Duration)
	if len(sum.Failed) > 0 {
		return fmt.Errorf("snapshot refresh failed for courses %v", sum.Failed)
	}
	return nil
}

func (cli *commandLine) weeklySummary(ctx context.Context) error {
	sent, err := cli.weekly.Send(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "sent %d weekly summaries\n", sent)
	return nil
}

func (cli *commandLine) purgeCourse(ctx context.Context, courseID int64) error {
	if err := cli.purger.DeleteCourseData(ctx, courseID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted points data of course %d\n", courseID)
	return nil
}

func (cli *commandLine) purgeUser(ctx context.Context, userID int64, courseID *int64) error {
	courses, err := cli.purger.DeleteUserData(ctx, userID, courseID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted points data of user %d in courses %v\n", userID, courses)
	return nil
}
