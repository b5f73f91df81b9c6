package academic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/fatracker/core"
)

// Periods a section may be taught in.
const (
	PeriodMorning   = "MORNING"
	PeriodAfternoon = "AFTERNOON"
	PeriodEvening   = "EVENING"
	PeriodFullTime  = "FULL_TIME"
)

type (
	Course struct {
		ID        int64     `json:"id" db:"id"`
		Code      string    `json:"code" db:"code"`
		Name      string    `json:"name" db:"name"`
		IsAnnual  bool      `json:"is_annual" db:"is_annual"`
		CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
		UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
	}

	Section struct {
		ID           int64     `json:"id" db:"id"`
		CourseID     int64     `json:"course_id" db:"course_id"`
		Code         string    `json:"code" db:"code"`
		Period       string    `json:"period" db:"period"`
		Year         int       `json:"year" db:"year"`
		YearSemester int       `json:"year_semester" db:"year_semester"`
		Semester     int       `json:"semester" db:"semester"`
		IsActive     bool      `json:"is_active" db:"is_active"`
		CreatedAt    time.Time `json:"created_at" db:"created_at"` // UTC
		UpdatedAt    time.Time `json:"updated_at" db:"updated_at"` // UTC
	}

	Assignment struct {
		ID        int64      `json:"id"`
		SectionID int64      `json:"section_id"`
		Title     string     `json:"title"`
		Content   string     `json:"content"`
		DueDate   *time.Time `json:"due_date"`
		CreatedAt time.Time  `json:"created_at"` // UTC
		UpdatedAt time.Time  `json:"updated_at"` // UTC
	}
)

// SectionCode builds the unique code of a section: <course>_<semester>-<period>-<yearSemester>/<year>.
func SectionCode(courseCode string, semester int, period string, yearSemester, year int) string {
	return fmt.Sprintf("%s_%d-%s-%d/%d", courseCode, semester, period, yearSemester, year)
}

// NewCourse contains information needed to create a Course.
type NewCourse struct {
	Code     string `json:"code" validate:"required,alphanum_"`
	Name     string `json:"name" validate:"required"`
	IsAnnual bool   `json:"is_annual"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Code = strings.ToUpper(core.CleanString(nc.Code))
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

// UpdateCourse defines what may be changed on a Course; empty fields are left unchanged.
type UpdateCourse struct {
	Code     string `json:"code" validate:"omitempty,alphanum_"`
	Name     string `json:"name"`
	IsAnnual *bool  `json:"is_annual"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Code = strings.ToUpper(core.CleanString(uc.Code))
	uc.Name = core.CleanString(uc.Name)
	return validate.Struct(uc)
}

type NewSection struct {
	CourseID     int64  `json:"course_id" validate:"required,gt=0"`
	Period       string `json:"period" validate:"required,oneof=MORNING AFTERNOON EVENING FULL_TIME"`
	Year         int    `json:"year" validate:"required,gte=2000,lte=2100"`
	YearSemester int    `json:"year_semester" validate:"required,oneof=1 2"`
	Semester     int    `json:"semester" validate:"required,gte=1,lte=12"`
}

func (ns *NewSection) Validate(validate *validator.Validate) error {
	ns.Period = strings.ToUpper(core.CleanString(ns.Period))
	return validate.Struct(ns)
}

type UpdateSection struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (us *UpdateSection) Validate(validate *validator.Validate) error {
	return validate.Struct(us)
}

type NewAssignment struct {
	SectionID int64      `json:"section_id" validate:"required,gt=0"`
	Title     string     `json:"title" validate:"required,max=200"`
	Content   string     `json:"content"`
	DueDate   *time.Time `json:"due_date"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Content = core.CleanString(na.Content)
	return validate.Struct(na)
}

type UpdateAssignment struct {
	Title   string     `json:"title" validate:"omitempty,max=200"`
	Content *string    `json:"content"`
	DueDate *time.Time `json:"due_date"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	ua.Title = core.CleanString(ua.Title)
	if ua.Content != nil {
		c := core.CleanString(*ua.Content)
		ua.Content = &c
	}
	return validate.Struct(ua)
}

// Repository persists courses, sections, assignments and groups.
type Repository interface {
	GroupRepository

	CreateCourse(ctx context.Context, c Course) (Course, error)
	GetCourse(ctx context.Context, id int64) (Course, error)
	// ListCourses returns the courses in scope: those in courseIDs plus the parents of sectionIDs.
	ListCourses(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]Course, error)
	UpdateCourse(ctx context.Context, c Course) (Course, error)
	DeleteCourse(ctx context.Context, id int64) error

	CreateSection(ctx context.Context, s Section) (Section, error)
	GetSection(ctx context.Context, id int64) (Section, error)
	// ListSections returns the sections in scope: those of courseIDs plus sectionIDs.
	ListSections(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]Section, error)
	UpdateSection(ctx context.Context, s Section) (Section, error)
	DeleteSection(ctx context.Context, id int64) error

	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	// ListAssignments returns the assignments whose section is in scope.
	ListAssignments(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeleteAssignment(ctx context.Context, id int64) error
}
