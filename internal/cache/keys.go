package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CommonSizes are the page sizes the award path invalidates on every write.
var CommonSizes = []int{10, 20, 50, 100}

// GeneralKey identifies an all-time ranking page. groupID 0 means no group.
func GeneralKey(courseID int64, limit int, groupID int64) string {
	return fmt.Sprintf("general_%d_%d_%d", courseID, limit, groupID)
}

// DatedKey identifies a windowed ranking page.
func DatedKey(courseID int64, limit int, start, end time.Time) string {
	return fmt.Sprintf("dated_%d_%d_%d_%d", courseID, limit, start.Unix(), end.Unix())
}

// CommonKeys lists the general, ungrouped keys of the common page sizes.
func CommonKeys(courseID int64) []string {
	keys := make([]string, 0, len(CommonSizes))
	for _, size := range CommonSizes {
		keys = append(keys, GeneralKey(courseID, size, 0))
	}
	return keys
}

// CoursePatterns match every key of a course, whatever the window or size.
func CoursePatterns(courseID int64) []string {
	return []string{
		fmt.Sprintf("general_%d_*", courseID),
		fmt.Sprintf("dated_%d_*", courseID),
	}
}

// InvalidateCommon drops the common keys of a course. Dated and grouped
// keys are left to expire.
func InvalidateCommon(ctx context.Context, c Cache, courseID int64) error {
	return c.DeleteMany(ctx, CommonKeys(courseID)...)
}

// InvalidateCourse drops every cached page of a course.
func InvalidateCourse(ctx context.Context, c Cache, courseID int64) error {
	errs := []error{InvalidateCommon(ctx, c, courseID)}
	for _, p := range CoursePatterns(courseID) {
		errs = append(errs, c.DeleteMatching(ctx, p))
	}
	return errors.Join(errs...)
}
