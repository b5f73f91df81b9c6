package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
)

const groupColumns = "g.id, g.section_id, g.name, g.created_at"

type (
	groupRow struct {
		ID        int64     `db:"id"`
		SectionID int64     `db:"section_id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}

	groupMemberRow struct {
		GroupID      int64  `db:"group_id"`
		StudentID    int64  `db:"student_id"`
		Registration string `db:"registration"`
		Name         string `db:"name"`
		IsLeader     bool   `db:"is_leader"`
	}
)

// withMembers loads the members of every row, leader first.
func withMembers(ctx context.Context, db core.DBExecutor, rows []groupRow) ([]academic.Group, error) {
	groups := make([]academic.Group, 0, len(rows))
	if len(rows) == 0 {
		return groups, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var members []groupMemberRow
	q := `SELECT m.group_id, m.student_id, s.registration, s.name, m.is_leader
		FROM group_members m JOIN students s ON s.id = m.student_id
		WHERE m.group_id = ANY($1)
		ORDER BY m.group_id, m.is_leader DESC, s.registration`
	if err := db.SelectContext(ctx, &members, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "selecting group members")
	}

	byGroup := make(map[int64][]academic.GroupMember, len(rows))
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], academic.GroupMember{
			StudentID:    m.StudentID,
			Registration: m.Registration,
			Name:         m.Name,
			IsLeader:     m.IsLeader,
		})
	}
	for _, r := range rows {
		ms := byGroup[r.ID]
		if ms == nil {
			ms = []academic.GroupMember{}
		}
		groups = append(groups, academic.Group{ID: r.ID, SectionID: r.SectionID, Name: r.Name, Members: ms, CreatedAt: r.CreatedAt.UTC()})
	}
	return groups, nil
}

// CreateGroup inserts the group and its members in a single transaction.
func (repo *AcademicRepository) CreateGroup(ctx context.Context, g academic.Group) (academic.Group, error) {
	var created academic.Group
	err := core.WithTx(ctx, repo.db, func(tx core.DBExecutor) error {
		var row groupRow
		q := "INSERT INTO student_groups (section_id, name) VALUES ($1, $2) RETURNING id, section_id, name, created_at"
		if err := tx.GetContext(ctx, &row, q, g.SectionID, g.Name); err != nil {
			if violates(err, foreignKeyViolation, "") {
				return academic.ErrNotFound
			}
			return errors.Wrap(err, "inserting group")
		}

		insert := "INSERT INTO group_members (group_id, section_id, student_id, is_leader) VALUES ($1, $2, $3, $4)"
		for _, m := range g.Members {
			if _, err := tx.ExecContext(ctx, insert, row.ID, row.SectionID, m.StudentID, m.IsLeader); err != nil {
				switch {
				case violates(err, uniqueViolation, "group_members_section_id_student_id_key"):
					return academic.ErrAlreadyInGroup
				case violates(err, foreignKeyViolation, "group_members_student_id_fkey"):
					return academic.ErrStudentNotFound
				}
				return errors.Wrap(err, "inserting group member")
			}
		}

		groups, err := withMembers(ctx, tx, []groupRow{row})
		if err != nil {
			return err
		}
		created = groups[0]
		return nil
	})
	return created, err
}

func (repo *AcademicRepository) GetGroup(ctx context.Context, id int64) (academic.Group, error) {
	var row groupRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+groupColumns+" FROM student_groups g WHERE g.id = $1", id); err != nil {
		if isNoRows(err) {
			return academic.Group{}, academic.ErrNotFound
		}
		return academic.Group{}, errors.Wrap(err, "selecting group")
	}
	groups, err := withMembers(ctx, repo.db, []groupRow{row})
	if err != nil {
		return academic.Group{}, err
	}
	return groups[0], nil
}

func (repo *AcademicRepository) ListGroups(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Group, error) {
	var rows []groupRow
	q := `SELECT ` + groupColumns + `
		FROM student_groups g JOIN sections s ON s.id = g.section_id
		WHERE $1 OR s.course_id = ANY($2) OR s.id = ANY($3)
		ORDER BY g.id`
	if err := repo.db.SelectContext(ctx, &rows, q, all, pq.Array(courseIDs), pq.Array(sectionIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting groups")
	}
	return withMembers(ctx, repo.db, rows)
}

func (repo *AcademicRepository) DeleteGroup(ctx context.Context, id int64) error {
	return repo.delete(ctx, "student_groups", id)
}

func (repo *AcademicRepository) GroupedStudents(ctx context.Context, sectionID int64, studentIDs []int64) ([]int64, error) {
	ids := make([]int64, 0)
	q := "SELECT student_id FROM group_members WHERE section_id = $1 AND student_id = ANY($2) ORDER BY student_id"
	if err := repo.db.SelectContext(ctx, &ids, q, sectionID, pq.Array(studentIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting grouped students")
	}
	return ids, nil
}
