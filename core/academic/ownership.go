package academic

import (
	"context"

	"github.com/trezcool/fatracker/core/access"
)

// OwnershipRepository reads and changes the ownership graph.
type OwnershipRepository interface {
	access.Graph

	// ReplaceCoordination revokes the course's active coordination, if any, and creates a new one bound to
	// the role assignment, in a single transaction.
	ReplaceCoordination(ctx context.Context, courseID, assignmentID int64) (access.Coordination, error)
	RevokeCoordination(ctx context.Context, courseID int64) error

	// ReplaceTeaching does for sections what ReplaceCoordination does for courses.
	ReplaceTeaching(ctx context.Context, sectionID, assignmentID int64) (access.Teaching, error)
	RevokeTeaching(ctx context.Context, sectionID int64) error

	Enroll(ctx context.Context, studentID, sectionID int64) (access.Enrollment, error)
	Unenroll(ctx context.Context, studentID, sectionID int64) error
}
