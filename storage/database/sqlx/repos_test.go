package sqlxrepos

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/principal"
	"github.com/trezcool/fatracker/storage/database"
)

// openTestDB connects to DATABASE_URL, migrates it and empties every table.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE group_members, student_groups, enrollments, teachings, coordinations,
		assignments, sections, courses, staff_roles, students, staff RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func TestPrincipalRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPrincipalRepository(openTestDB(t))

	staff, err := repo.CreateStaff(ctx, principal.Principal{Name: "Ada", Email: "Ada@Uni.test", PasswordHash: []byte("h")})
	require.NoError(t, err)
	assert.Equal(t, "ada@uni.test", staff.Email)
	assert.True(t, staff.HasRole(principal.RoleStaff))

	student, err := repo.CreateStudent(ctx, principal.Principal{Name: "Bob", Email: "ada@uni.test", Registration: "R1", PasswordHash: []byte("h")})
	require.NoError(t, err)

	_, err = repo.CreateStaff(ctx, principal.Principal{Name: "X", Email: "ada@uni.test", PasswordHash: []byte("h")})
	assert.Equal(t, principal.ErrEmailExists, err)
	_, err = repo.CreateStudent(ctx, principal.Principal{Name: "X", Email: "x@uni.test", Registration: "R1", PasswordHash: []byte("h")})
	assert.Equal(t, principal.ErrRegistrationExists, err)

	found, err := repo.FindByEmail(ctx, "ADA@uni.test")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = repo.FindByRegistration(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, student.Ref, found[0].Ref)

	a, err := repo.AddRoleAssignment(ctx, staff.ID, principal.RoleAdmin)
	require.NoError(t, err)
	again, err := repo.AddRoleAssignment(ctx, staff.ID, principal.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	got, err := repo.GetPrincipal(ctx, staff.Ref)
	require.NoError(t, err)
	assert.True(t, got.HasRole(principal.RoleAdmin))

	require.NoError(t, repo.RevokeRoleAssignment(ctx, a.ID))
	assert.Equal(t, principal.ErrNotFound, repo.RevokeRoleAssignment(ctx, a.ID))

	require.NoError(t, repo.UpdatePassword(ctx, student.Ref, []byte("new")))
	assert.Equal(t, principal.ErrNotFound, repo.UpdatePassword(ctx, principal.Ref{ID: 999, Kind: principal.KindStudent}, nil))

	other, err := repo.CreateStaff(ctx, principal.Principal{Name: "Grace", Email: "grace@uni.test", PasswordHash: []byte("h")})
	require.NoError(t, err)
	staffList, err := repo.ListPrincipals(ctx, principal.KindStaff)
	require.NoError(t, err)
	require.Len(t, staffList, 2)
	assert.Equal(t, staff.Ref, staffList[0].Ref)

	other.Email = "ADA@uni.test"
	_, err = repo.UpdateProfile(ctx, other)
	assert.Equal(t, principal.ErrEmailExists, err)
	other.Name, other.Email = "Grace Hopper", "Hopper@Uni.test"
	updated, err := repo.UpdateProfile(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", updated.Name)
	assert.Equal(t, "hopper@uni.test", updated.Email)

	require.NoError(t, repo.DeletePrincipal(ctx, other.Ref))
	assert.Equal(t, principal.ErrNotFound, repo.DeletePrincipal(ctx, other.Ref))
	require.NoError(t, repo.DeletePrincipal(ctx, student.Ref))
	_, err = repo.GetPrincipal(ctx, student.Ref)
	assert.Equal(t, principal.ErrNotFound, err)
}

func TestAcademicAndOwnershipRepositories(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	people := NewPrincipalRepository(db)
	repo := NewAcademicRepository(db)
	owners := NewOwnershipRepository(db)

	staff, err := people.CreateStaff(ctx, principal.Principal{Name: "Ada", Email: "ada@uni.test", PasswordHash: []byte("h")})
	require.NoError(t, err)
	student, err := people.CreateStudent(ctx, principal.Principal{Name: "Bob", Email: "bob@uni.test", Registration: "R1", PasswordHash: []byte("h")})
	require.NoError(t, err)

	course, err := repo.CreateCourse(ctx, academic.Course{Code: "CS101", Name: "Intro"})
	require.NoError(t, err)
	_, err = repo.CreateCourse(ctx, academic.Course{Code: "CS101", Name: "Dup"})
	assert.Equal(t, academic.ErrCourseExists, err)

	section, err := repo.CreateSection(ctx, academic.Section{CourseID: course.ID, Code: "CS101_1-MORNING-1/2024", Period: "MORNING", Year: 2024, YearSemester: 1, Semester: 1, IsActive: true})
	require.NoError(t, err)
	_, err = repo.CreateSection(ctx, academic.Section{CourseID: 999, Code: "other"})
	assert.Equal(t, academic.ErrNotFound, err)

	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hw, err := repo.CreateAssignment(ctx, academic.Assignment{SectionID: section.ID, Title: "HW1", DueDate: &due})
	require.NoError(t, err)
	require.NotNil(t, hw.DueDate)
	assert.True(t, due.Equal(*hw.DueDate))

	coord, err := people.AddRoleAssignment(ctx, staff.ID, principal.RoleCoordinator)
	require.NoError(t, err)

	first, err := owners.ReplaceCoordination(ctx, course.ID, coord.ID)
	require.NoError(t, err)
	second, err := owners.ReplaceCoordination(ctx, course.ID, coord.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := owners.ActiveCoordination(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, staff.ID, active.Assignment.StaffID)

	_, err = owners.ReplaceCoordination(ctx, course.ID, 999)
	assert.Equal(t, principal.ErrNotFound, err)

	inUse, err := people.RoleAssignmentInUse(ctx, coord.ID)
	require.NoError(t, err)
	assert.True(t, inUse)
	assert.Equal(t, principal.ErrRoleInUse, people.DeletePrincipal(ctx, staff.Ref))

	_, err = owners.Enroll(ctx, student.ID, section.ID)
	require.NoError(t, err)
	_, err = owners.Enroll(ctx, student.ID, section.ID)
	assert.Equal(t, academic.ErrAlreadyEnrolled, err)

	sectionIDs, err := owners.EnrolledSections(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{section.ID}, sectionIDs)

	courses, err := repo.ListCourses(ctx, false, nil, sectionIDs)
	require.NoError(t, err)
	assert.Len(t, courses, 1)
	assignments, err := repo.ListAssignments(ctx, false, []int64{course.ID}, nil)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)

	require.NoError(t, repo.DeleteCourse(ctx, course.ID))
	_, err = repo.GetAssignment(ctx, hw.ID)
	assert.Equal(t, academic.ErrNotFound, err)
	enrolled, err := owners.IsEnrolled(ctx, student.ID, section.ID)
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestAcademicRepository_Groups(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	people := NewPrincipalRepository(db)
	repo := NewAcademicRepository(db)

	bob, err := people.CreateStudent(ctx, principal.Principal{Name: "Bob", Email: "bob@uni.test", Registration: "R1", PasswordHash: []byte("h")})
	require.NoError(t, err)
	cy, err := people.CreateStudent(ctx, principal.Principal{Name: "Cy", Email: "cy@uni.test", Registration: "R2", PasswordHash: []byte("h")})
	require.NoError(t, err)
	course, err := repo.CreateCourse(ctx, academic.Course{Code: "CS101", Name: "Intro"})
	require.NoError(t, err)
	section, err := repo.CreateSection(ctx, academic.Section{CourseID: course.ID, Code: "CS101_1-MORNING-1/2024", Period: "MORNING", Year: 2024, YearSemester: 1, Semester: 1, IsActive: true})
	require.NoError(t, err)

	g, err := repo.CreateGroup(ctx, academic.Group{SectionID: section.ID, Name: "Team A", Members: []academic.GroupMember{
		{StudentID: cy.ID},
		{StudentID: bob.ID, IsLeader: true},
	}})
	require.NoError(t, err)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "R1", g.Members[0].Registration)
	leader, ok := g.Leader()
	require.True(t, ok)
	assert.Equal(t, bob.ID, leader.StudentID)

	_, err = repo.CreateGroup(ctx, academic.Group{SectionID: section.ID, Name: "Team B", Members: []academic.GroupMember{{StudentID: cy.ID}}})
	assert.Equal(t, academic.ErrAlreadyInGroup, err)
	_, err = repo.CreateGroup(ctx, academic.Group{SectionID: 999, Name: "Team C"})
	assert.Equal(t, academic.ErrNotFound, err)

	grouped, err := repo.GroupedStudents(ctx, section.ID, []int64{bob.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID}, grouped)

	groups, err := repo.ListGroups(ctx, false, []int64{course.ID}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID, groups[0].ID)
	groups, err = repo.ListGroups(ctx, false, nil, []int64{999})
	require.NoError(t, err)
	assert.Empty(t, groups)

	require.NoError(t, people.DeletePrincipal(ctx, cy.Ref))
	got, err := repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)

	require.NoError(t, repo.DeleteGroup(ctx, g.ID))
	assert.Equal(t, academic.ErrNotFound, repo.DeleteGroup(ctx, g.ID))
}
