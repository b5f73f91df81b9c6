package sqlxrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

// relationRow is a coordination or a teaching joined with its role assignment.
type relationRow struct {
	ID        int64     `db:"id"`
	EntityID  int64     `db:"entity_id"`
	CreatedAt time.Time `db:"created_at"`
	RevokedAt null.Time `db:"revoked_at"`
	Role      roleRow   `db:"role"`
}

func (r relationRow) coordination() access.Coordination {
	return access.Coordination{
		ID:         r.ID,
		CourseID:   r.EntityID,
		Assignment: r.Role.assignment(),
		CreatedAt:  r.CreatedAt.UTC(),
		RevokedAt:  timePtr(r.RevokedAt),
	}
}

func (r relationRow) teaching() access.Teaching {
	return access.Teaching{
		ID:         r.ID,
		SectionID:  r.EntityID,
		Assignment: r.Role.assignment(),
		CreatedAt:  r.CreatedAt.UTC(),
		RevokedAt:  timePtr(r.RevokedAt),
	}
}

// relation describes the coordinations or teachings table.
type relation struct {
	table, entity string
}

var (
	coordinations = relation{table: "coordinations", entity: "course_id"}
	teachings     = relation{table: "teachings", entity: "section_id"}
)

func (rel relation) selectActive(where string) string {
	return fmt.Sprintf(`SELECT o.id, o.%[2]s AS entity_id, o.created_at, o.revoked_at,
			r.id AS "role.id", r.staff_id AS "role.staff_id", r.role AS "role.role", r.created_at AS "role.created_at"
		FROM %[1]s o JOIN staff_roles r ON r.id = o.staff_role_id
		WHERE o.revoked_at IS NULL AND %[3]s
		ORDER BY o.id`, rel.table, rel.entity, where)
}

type OwnershipRepository struct {
	db core.DB
}

var _ academic.OwnershipRepository = (*OwnershipRepository)(nil)

func NewOwnershipRepository(db core.DB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

func (repo *OwnershipRepository) active(ctx context.Context, rel relation, entityID int64) (relationRow, error) {
	var row relationRow
	if err := repo.db.GetContext(ctx, &row, rel.selectActive("o."+rel.entity+" = $1"), entityID); err != nil {
		if isNoRows(err) {
			return relationRow{}, access.ErrNotFound
		}
		return relationRow{}, errors.Wrapf(err, "selecting active %s", rel.table)
	}
	return row, nil
}

func (repo *OwnershipRepository) ownedBy(ctx context.Context, rel relation, staffID int64) ([]int64, error) {
	var rows []relationRow
	if err := repo.db.SelectContext(ctx, &rows, rel.selectActive("r.staff_id = $1"), staffID); err != nil {
		return nil, errors.Wrapf(err, "selecting %s by staff", rel.table)
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.EntityID)
	}
	return ids, nil
}

// replace revokes the active relation of the entity and binds it to assignmentID, in a single transaction.
func (repo *OwnershipRepository) replace(ctx context.Context, rel relation, entityID, assignmentID int64) (relationRow, error) {
	var row relationRow
	err := core.WithTx(ctx, repo.db, func(tx core.DBExecutor) error {
		revoke := fmt.Sprintf("UPDATE %s SET revoked_at = now() WHERE %s = $1 AND revoked_at IS NULL", rel.table, rel.entity)
		if _, err := tx.ExecContext(ctx, revoke, entityID); err != nil {
			return errors.Wrapf(err, "revoking %s", rel.table)
		}

		var id int64
		insert := fmt.Sprintf("INSERT INTO %s (%s, staff_role_id) VALUES ($1, $2) RETURNING id", rel.table, rel.entity)
		if err := tx.GetContext(ctx, &id, insert, entityID, assignmentID); err != nil {
			switch {
			case violates(err, foreignKeyViolation, rel.table+"_staff_role_id_fkey"):
				return principal.ErrNotFound
			case violates(err, foreignKeyViolation, ""):
				return academic.ErrNotFound
			}
			return errors.Wrapf(err, "inserting %s", rel.table)
		}
		return tx.GetContext(ctx, &row, rel.selectActive("o.id = $1"), id)
	})
	return row, err
}

func (repo *OwnershipRepository) revoke(ctx context.Context, rel relation, entityID int64) error {
	q := fmt.Sprintf("UPDATE %s SET revoked_at = now() WHERE %s = $1 AND revoked_at IS NULL", rel.table, rel.entity)
	res, err := repo.db.ExecContext(ctx, q, entityID)
	if err != nil {
		return errors.Wrapf(err, "revoking %s", rel.table)
	}
	return checkAffected(res, academic.ErrNotFound)
}

// Graph (reads)

func (repo *OwnershipRepository) SectionCourse(ctx context.Context, sectionID int64) (int64, error) {
	var courseID int64
	if err := repo.db.GetContext(ctx, &courseID, "SELECT course_id FROM sections WHERE id = $1", sectionID); err != nil {
		if isNoRows(err) {
			return 0, access.ErrNotFound
		}
		return 0, errors.Wrap(err, "selecting section course")
	}
	return courseID, nil
}

func (repo *OwnershipRepository) ActiveCoordination(ctx context.Context, courseID int64) (access.Coordination, error) {
	row, err := repo.active(ctx, coordinations, courseID)
	if err != nil {
		return access.Coordination{}, err
	}
	return row.coordination(), nil
}

func (repo *OwnershipRepository) ActiveTeaching(ctx context.Context, sectionID int64) (access.Teaching, error) {
	row, err := repo.active(ctx, teachings, sectionID)
	if err != nil {
		return access.Teaching{}, err
	}
	return row.teaching(), nil
}

func (repo *OwnershipRepository) IsEnrolled(ctx context.Context, studentID, sectionID int64) (bool, error) {
	var enrolled bool
	q := "SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2)"
	if err := repo.db.GetContext(ctx, &enrolled, q, studentID, sectionID); err != nil {
		return false, errors.Wrap(err, "checking enrollment")
	}
	return enrolled, nil
}

func (repo *OwnershipRepository) CoordinatedCourses(ctx context.Context, staffID int64) ([]int64, error) {
	return repo.ownedBy(ctx, coordinations, staffID)
}

func (repo *OwnershipRepository) TaughtSections(ctx context.Context, staffID int64) ([]int64, error) {
	return repo.ownedBy(ctx, teachings, staffID)
}

func (repo *OwnershipRepository) EnrolledSections(ctx context.Context, studentID int64) ([]int64, error) {
	var ids []int64
	q := "SELECT section_id FROM enrollments WHERE student_id = $1 ORDER BY id"
	if err := repo.db.SelectContext(ctx, &ids, q, studentID); err != nil {
		return nil, errors.Wrap(err, "selecting enrolled sections")
	}
	return ids, nil
}

// Ownership (writes)

func (repo *OwnershipRepository) ReplaceCoordination(ctx context.Context, courseID, assignmentID int64) (access.Coordination, error) {
	row, err := repo.replace(ctx, coordinations, courseID, assignmentID)
	if err != nil {
		return access.Coordination{}, err
	}
	return row.coordination(), nil
}

func (repo *OwnershipRepository) RevokeCoordination(ctx context.Context, courseID int64) error {
	return repo.revoke(ctx, coordinations, courseID)
}

func (repo *OwnershipRepository) ReplaceTeaching(ctx context.Context, sectionID, assignmentID int64) (access.Teaching, error) {
	row, err := repo.replace(ctx, teachings, sectionID, assignmentID)
	if err != nil {
		return access.Teaching{}, err
	}
	return row.teaching(), nil
}

func (repo *OwnershipRepository) RevokeTeaching(ctx context.Context, sectionID int64) error {
	return repo.revoke(ctx, teachings, sectionID)
}

func (repo *OwnershipRepository) Enroll(ctx context.Context, studentID, sectionID int64) (access.Enrollment, error) {
	var e access.Enrollment
	q := "INSERT INTO enrollments (student_id, section_id) VALUES ($1, $2) RETURNING id, student_id, section_id, created_at"
	err := repo.db.QueryRowxContext(ctx, q, studentID, sectionID).Scan(&e.ID, &e.StudentID, &e.SectionID, &e.CreatedAt)
	switch {
	case err == nil:
		e.CreatedAt = e.CreatedAt.UTC()
		return e, nil
	case violates(err, uniqueViolation, ""):
		return access.Enrollment{}, academic.ErrAlreadyEnrolled
	case violates(err, foreignKeyViolation, "enrollments_student_id_fkey"):
		return access.Enrollment{}, principal.ErrNotFound
	case violates(err, foreignKeyViolation, ""):
		return access.Enrollment{}, academic.ErrNotFound
	default:
		return access.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
}

func (repo *OwnershipRepository) Unenroll(ctx context.Context, studentID, sectionID int64) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM enrollments WHERE student_id = $1 AND section_id = $2", studentID, sectionID)
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	return checkAffected(res, academic.ErrNotFound)
}
