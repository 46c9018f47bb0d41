package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courserank/ranking-engine/internal/snapshot"
)

type fakeRefresher struct {
	summary *snapshot.Summary
	err     error
}

func (f *fakeRefresher) RefreshAll(context.Context) (*snapshot.Summary, error) {
	return f.summary, f.err
}

type fakeSender struct{ sent int }

func (f *fakeSender) Send(context.Context) (int, error) { return f.sent, nil }

type fakePurger struct {
	course   int64
	user     int64
	scope    *int64
	purgeErr error
}

func (f *fakePurger) DeleteCourseData(_ context.Context, courseID int64) error {
	f.course = courseID
	return f.purgeErr
}

func (f *fakePurger) DeleteUserData(_ context.Context, userID int64, courseID *int64) ([]int64, error) {
	f.user = userID
	f.scope = courseID
	if courseID != nil {
		return []int64{*courseID}, f.purgeErr
	}
	return []int64{1, 2}, f.purgeErr
}

func setup() (*commandLine, *fakePurger, *bytes.Buffer) {
	out := &bytes.Buffer{}
	p := &fakePurger{}
	return &commandLine{
		databaseURL: "postgres://localhost/courserank",
		refresher:   &fakeRefresher{summary: &snapshot.Summary{Courses: 3, Rows: 12, Failed: []int64{}}},
		weekly:      &fakeSender{sent: 7},
		purger:      p,
		out:         out,
	}, p, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func runAll(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"rankctl"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), args)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, out := setup()

	runAll(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	})
	assert.Contains(t, out.String(), "purge-user -user ID")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup()

	var gotURL string
	migrateFunc = func(_ context.Context, databaseURL, command string, args ...string) error {
		gotURL = databaseURL
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runAll(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: up-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "1"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	})
	assert.Equal(t, "postgres://localhost/courserank", gotURL)

	cli.databaseURL = ""
	err := cli.run(context.Background(), []string{"rankctl", "migrate", "up"})
	assert.EqualError(t, err, "DATABASE_URL is required to migrate")
}

func Test_commandLine_refresh(t *testing.T) {
	cli, _, out := setup()

	require.NoError(t, cli.run(context.Background(), []string{"rankctl", "refresh"}))
	assert.Contains(t, out.String(), "refreshed 3 courses (12 rows)")

	cli.refresher = &fakeRefresher{summary: &snapshot.Summary{Courses: 2, Failed: []int64{9}}}
	err := cli.run(context.Background(), []string{"rankctl", "refresh"})
	assert.EqualError(t, err, "snapshot refresh failed for courses [9]")

	boom := errors.New("list courses: connection refused")
	cli.refresher = &fakeRefresher{err: boom}
	err = cli.run(context.Background(), []string{"rankctl", "refresh"})
	assert.ErrorIs(t, err, boom)
}

func Test_commandLine_weeklySummary(t *testing.T) {
	cli, _, out := setup()

	require.NoError(t, cli.run(context.Background(), []string{"rankctl", "weekly-summary"}))
	assert.Contains(t, out.String(), "sent 7 weekly summaries")
}

func Test_commandLine_purgeCourse(t *testing.T) {
	cli, p, _ := setup()

	runAll(t, cli, []cliTest{
		{name: "no args", args: []string{"purge-course"}, wantErr: errHelp},
		{name: "zero course", args: []string{"purge-course", "-course", "0"}, wantErr: errHelp},
		{name: "help flag", args: []string{"purge-course", "-h"}, wantErr: errHelp},
		{name: "bad value", args: []string{"purge-course", "-course", "lol"}, wantErrStr: `invalid value "lol" for flag -course: parse error`},
		{name: "ok", args: []string{"purge-course", "-course", "42"}},
	})
	assert.Equal(t, int64(42), p.course)

	p.purgeErr = errors.New("boom")
	err := cli.run(context.Background(), []string{"rankctl", "purge-course", "-course", "42"})
	assert.EqualError(t, err, "boom")
}

func Test_commandLine_purgeUser(t *testing.T) {
	cli, p, out := setup()

	runAll(t, cli, []cliTest{
		{name: "no args", args: []string{"purge-user"}, wantErr: errHelp},
		{name: "negative course", args: []string{"purge-user", "-user", "5", "-course", "-1"}, wantErr: errHelp},
	})

	require.NoError(t, cli.run(context.Background(), []string{"rankctl", "purge-user", "-user", "5"}))
	assert.Equal(t, int64(5), p.user)
	assert.Nil(t, p.scope)
	assert.Contains(t, out.String(), "deleted points data of user 5 in courses [1 2]")

	require.NoError(t, cli.run(context.Background(), []string{"rankctl", "purge-user", "-user", "5", "-course", "3"}))
	require.NotNil(t, p.scope)
	assert.Equal(t, int64(3), *p.scope)
}
