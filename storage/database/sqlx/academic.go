package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
)

const (
	courseColumns     = "id, code, name, is_annual, created_at, updated_at"
	sectionColumns    = "id, course_id, code, period, year, year_semester, semester, is_active, created_at, updated_at"
	assignmentColumns = "id, section_id, title, content, due_date, created_at, updated_at"
)

type assignmentRow struct {
	ID        int64     `db:"id"`
	SectionID int64     `db:"section_id"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	DueDate   null.Time `db:"due_date"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r assignmentRow) assignment() academic.Assignment {
	return academic.Assignment{
		ID:        r.ID,
		SectionID: r.SectionID,
		Title:     r.Title,
		Content:   r.Content,
		DueDate:   timePtr(r.DueDate),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type AcademicRepository struct {
	db core.DB
}

var _ academic.Repository = (*AcademicRepository)(nil)

func NewAcademicRepository(db core.DB) *AcademicRepository {
	return &AcademicRepository{db: db}
}

func (repo *AcademicRepository) delete(ctx context.Context, table string, id int64) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	return checkAffected(res, academic.ErrNotFound)
}

// Courses

func (repo *AcademicRepository) CreateCourse(ctx context.Context, c academic.Course) (academic.Course, error) {
	var created academic.Course
	q := "INSERT INTO courses (code, name, is_annual) VALUES ($1, $2, $3) RETURNING " + courseColumns
	if err := repo.db.GetContext(ctx, &created, q, c.Code, c.Name, c.IsAnnual); err != nil {
		if violates(err, uniqueViolation, "courses_code_key") {
			return academic.Course{}, academic.ErrCourseExists
		}
		return academic.Course{}, errors.Wrap(err, "inserting course")
	}
	return created, nil
}

func (repo *AcademicRepository) GetCourse(ctx context.Context, id int64) (academic.Course, error) {
	var c academic.Course
	if err := repo.db.GetContext(ctx, &c, "SELECT "+courseColumns+" FROM courses WHERE id = $1", id); err != nil {
		if isNoRows(err) {
			return academic.Course{}, academic.ErrNotFound
		}
		return academic.Course{}, errors.Wrap(err, "selecting course")
	}
	return c, nil
}

func (repo *AcademicRepository) ListCourses(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Course, error) {
	courses := make([]academic.Course, 0)
	q := `SELECT ` + courseColumns + ` FROM courses
		WHERE $1 OR id = ANY($2) OR id IN (SELECT course_id FROM sections WHERE id = ANY($3))
		ORDER BY id`
	if err := repo.db.SelectContext(ctx, &courses, q, all, pq.Array(courseIDs), pq.Array(sectionIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting courses")
	}
	return courses, nil
}

func (repo *AcademicRepository) UpdateCourse(ctx context.Context, c academic.Course) (academic.Course, error) {
	var updated academic.Course
	q := "UPDATE courses SET code = $2, name = $3, is_annual = $4, updated_at = now() WHERE id = $1 RETURNING " + courseColumns
	err := repo.db.GetContext(ctx, &updated, q, c.ID, c.Code, c.Name, c.IsAnnual)
	switch {
	case err == nil:
		return updated, nil
	case isNoRows(err):
		return academic.Course{}, academic.ErrNotFound
	case violates(err, uniqueViolation, "courses_code_key"):
		return academic.Course{}, academic.ErrCourseExists
	default:
		return academic.Course{}, errors.Wrap(err, "updating course")
	}
}

func (repo *AcademicRepository) DeleteCourse(ctx context.Context, id int64) error {
	return repo.delete(ctx, "courses", id)
}

// Sections

func (repo *AcademicRepository) CreateSection(ctx context.Context, s academic.Section) (academic.Section, error) {
	var created academic.Section
	q := `INSERT INTO sections (course_id, code, period, year, year_semester, semester, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING ` + sectionColumns
	err := repo.db.GetContext(ctx, &created, q, s.CourseID, s.Code, s.Period, s.Year, s.YearSemester, s.Semester, s.IsActive)
	switch {
	case err == nil:
		return created, nil
	case violates(err, uniqueViolation, "sections_code_key"):
		return academic.Section{}, academic.ErrSectionExists
	case violates(err, foreignKeyViolation, ""):
		return academic.Section{}, academic.ErrNotFound
	default:
		return academic.Section{}, errors.Wrap(err, "inserting section")
	}
}

func (repo *AcademicRepository) GetSection(ctx context.Context, id int64) (academic.Section, error) {
	var s academic.Section
	if err := repo.db.GetContext(ctx, &s, "SELECT "+sectionColumns+" FROM sections WHERE id = $1", id); err != nil {
		if isNoRows(err) {
			return academic.Section{}, academic.ErrNotFound
		}
		return academic.Section{}, errors.Wrap(err, "selecting section")
	}
	return s, nil
}

func (repo *AcademicRepository) ListSections(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Section, error) {
	sections := make([]academic.Section, 0)
	q := `SELECT ` + sectionColumns + ` FROM sections
		WHERE $1 OR course_id = ANY($2) OR id = ANY($3)
		ORDER BY id`
	if err := repo.db.SelectContext(ctx, &sections, q, all, pq.Array(courseIDs), pq.Array(sectionIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting sections")
	}
	return sections, nil
}

func (repo *AcademicRepository) UpdateSection(ctx context.Context, s academic.Section) (academic.Section, error) {
	var updated academic.Section
	q := "UPDATE sections SET is_active = $2, updated_at = now() WHERE id = $1 RETURNING " + sectionColumns
	if err := repo.db.GetContext(ctx, &updated, q, s.ID, s.IsActive); err != nil {
		if isNoRows(err) {
			return academic.Section{}, academic.ErrNotFound
		}
		return academic.Section{}, errors.Wrap(err, "updating section")
	}
	return updated, nil
}

func (repo *AcademicRepository) DeleteSection(ctx context.Context, id int64) error {
	return repo.delete(ctx, "sections", id)
}

// Assignments

func (repo *AcademicRepository) CreateAssignment(ctx context.Context, a academic.Assignment) (academic.Assignment, error) {
	var row assignmentRow
	q := "INSERT INTO assignments (section_id, title, content, due_date) VALUES ($1, $2, $3, $4) RETURNING " + assignmentColumns
	err := repo.db.GetContext(ctx, &row, q, a.SectionID, a.Title, a.Content, null.TimeFromPtr(a.DueDate))
	switch {
	case err == nil:
		return row.assignment(), nil
	case violates(err, foreignKeyViolation, ""):
		return academic.Assignment{}, academic.ErrNotFound
	default:
		return academic.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
}

func (repo *AcademicRepository) GetAssignment(ctx context.Context, id int64) (academic.Assignment, error) {
	var row assignmentRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+assignmentColumns+" FROM assignments WHERE id = $1", id); err != nil {
		if isNoRows(err) {
			return academic.Assignment{}, academic.ErrNotFound
		}
		return academic.Assignment{}, errors.Wrap(err, "selecting assignment")
	}
	return row.assignment(), nil
}

func (repo *AcademicRepository) ListAssignments(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Assignment, error) {
	var rows []assignmentRow
	q := `SELECT a.id, a.section_id, a.title, a.content, a.due_date, a.created_at, a.updated_at
		FROM assignments a JOIN sections s ON s.id = a.section_id
		WHERE $1 OR s.course_id = ANY($2) OR s.id = ANY($3)
		ORDER BY a.id`
	if err := repo.db.SelectContext(ctx, &rows, q, all, pq.Array(courseIDs), pq.Array(sectionIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}

	assignments := make([]academic.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, row.assignment())
	}
	return assignments, nil
}

func (repo *AcademicRepository) UpdateAssignment(ctx context.Context, a academic.Assignment) (academic.Assignment, error) {
	var row assignmentRow
	q := `UPDATE assignments SET title = $2, content = $3, due_date = $4, updated_at = now()
		WHERE id = $1 RETURNING ` + assignmentColumns
	if err := repo.db.GetContext(ctx, &row, q, a.ID, a.Title, a.Content, null.TimeFromPtr(a.DueDate)); err != nil {
		if isNoRows(err) {
			return academic.Assignment{}, academic.ErrNotFound
		}
		return academic.Assignment{}, errors.Wrap(err, "updating assignment")
	}
	return row.assignment(), nil
}

func (repo *AcademicRepository) DeleteAssignment(ctx context.Context, id int64) error {
	return repo.delete(ctx, "assignments", id)
}
