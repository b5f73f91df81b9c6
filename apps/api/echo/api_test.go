package echoapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fatracker/apps/api/echo"
	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/auth"
	"github.com/trezcool/fatracker/core/principal"
	"github.com/trezcool/fatracker/services/email"
	"github.com/trezcool/fatracker/storage/cache"
	"github.com/trezcool/fatracker/storage/database/inmem"
	"github.com/trezcool/fatracker/tests"
)

const (
	pwd        = "correct-horse-battery"
	clientAddr = "192.0.2.1:1234" // httptest default
)

var codeRegex = regexp.MustCompile(`verification code is: (\d{6})`)

type httpErr struct {
	Error string `json:"error"`
}

type testApp struct {
	srv    *echoapi.Server
	db     *inmemdb.DB
	mailer *emailsvc.ConsoleServiceMock
	tokens *auth.TokenIssuer
}

func newTestApp(t *testing.T, configure ...func(*core.Config)) *testApp {
	t.Helper()
	conf := core.NewTestConfig()
	for _, fn := range configure {
		fn(conf)
	}

	db := inmemdb.NewDB()
	mem := cachestore.NewMemory(conf.Cache.Shards)
	t.Cleanup(func() { _ = mem.Close() })
	mailer := testutil.NewMailer(conf)
	logger := testutil.NewLogger()
	validate, translator := testutil.NewValidator()
	tokens := auth.NewTokenIssuer(conf)

	principalSvc := principal.NewService(db, mailer, logger, validate)
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:         conf,
		Logger:       logger,
		AuthSvc:      auth.NewService(db, mem, tokens, mailer, logger, conf),
		AcademicSvc:  academic.NewService(db, db, access.NewResolver(db), principalSvc, db, validate, logger),
		PrincipalSvc: principalSvc,
		Validate:     validate,
		Translator:   translator,
	})
	return &testApp{srv: srv, db: db, mailer: mailer, tokens: tokens}
}

func (app *testApp) do(t *testing.T, method, path, token string, body interface{}, configure ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, fn := range configure {
		fn(req)
	}
	rec := httptest.NewRecorder()
	app.srv.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) token(t *testing.T, p principal.Principal) string {
	t.Helper()
	token, err := app.tokens.Issue(p.Ref)
	require.NoError(t, err)
	return token
}

// lastCode extracts the code of the last verification email.
func (app *testApp) lastCode(t *testing.T) string {
	t.Helper()
	msg, ok := app.mailer.LastMessage()
	require.True(t, ok, "no email sent")
	m := codeRegex.FindStringSubmatch(msg.TextContent)
	require.Len(t, m, 2, "no code in %q", msg.TextContent)
	return m[1]
}

func marshal(t *testing.T, obj interface{}) string {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return string(data)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func fromAddr(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestAuthAPI_Login(t *testing.T) {
	app := newTestApp(t)
	testutil.CreateStaff(t, app.db, "Ada", "ada@uni.test", pwd, principal.RoleProfessor)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantData string
	}{
		{
			name: "required fields", body: echoapi.LoginRequest{}, wantCode: http.StatusBadRequest,
			wantData: `{"username": "this field is required", "password": "this field is required"}`,
		},
		{
			name: "invalid kind", body: echoapi.LoginRequest{Username: "ada@uni.test", Password: pwd, Kind: "alien"},
			wantCode: http.StatusBadRequest, wantData: `{"kind": "must be one of: staff, student"}`,
		},
		{
			name: "wrong password", body: echoapi.LoginRequest{Username: "ada@uni.test", Password: "nope"},
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: auth.ErrInvalidCredentials.Error()}),
		},
		{
			name: "unknown user", body: echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd},
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: auth.ErrInvalidCredentials.Error()}),
		},
		{
			name: "wrong kind", body: echoapi.LoginRequest{Username: "ada@uni.test", Password: pwd, Kind: "student"},
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: auth.ErrInvalidCredentials.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/auth/login", "", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantData, rec.Body.String())
		})
	}

	t.Run("challenge", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: " ADA@uni.test ", Password: pwd, Kind: "Staff"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var data map[string]interface{}
		decode(t, rec, &data)
		assert.Len(t, data, 1)
		assert.NotEmpty(t, data["sessionId"])
		assert.NotContains(t, rec.Body.String(), app.lastCode(t))
	})
}

func TestAuthAPI_TwoFactorFlow(t *testing.T) {
	app := newTestApp(t)
	student := testutil.CreateStudent(t, app.db, "Bob", "bob@uni.test", "2024B1", pwd)

	rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "2024b1", Password: pwd})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session echoapi.SessionResponse
	decode(t, rec, &session)
	code := app.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	invalidSession := marshal(t, httpErr{Error: auth.ErrInvalidSession.Error()})
	tests := []struct {
		name     string
		path     string
		body     interface{}
		from     string
		wantCode int
		wantData string
	}{
		{
			name: "malformed session", path: "/auth/validate/not-a-uuid", body: echoapi.ValidateRequest{Code: code},
			wantCode: http.StatusBadRequest, wantData: invalidSession,
		},
		{
			name: "unknown session", path: "/auth/validate/4b4d6a3e-0000-4000-8000-000000000000",
			body: echoapi.ValidateRequest{Code: code}, wantCode: http.StatusBadRequest, wantData: invalidSession,
		},
		{
			name: "malformed code", path: "/auth/validate/" + session.SessionID, body: echoapi.ValidateRequest{Code: "12ab"},
			wantCode: http.StatusBadRequest, wantData: `{"code": "must be a 6 digit code"}`,
		},
		{
			name: "wrong code", path: "/auth/validate/" + session.SessionID, body: echoapi.ValidateRequest{Code: wrong},
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: auth.ErrInvalidCode.Error()}),
		},
		{
			name: "other origin", path: "/auth/validate/" + session.SessionID, body: echoapi.ValidateRequest{Code: code},
			from: "198.51.100.1:1234", wantCode: http.StatusBadRequest, wantData: invalidSession,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := clientAddr
			if tt.from != "" {
				from = tt.from
			}
			rec := app.do(t, http.MethodPost, tt.path, "", tt.body, fromAddr(from))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantData, rec.Body.String())
		})
	}

	var tok echoapi.TokenResponse
	t.Run("valid code", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/auth/validate/"+session.SessionID, "", echoapi.ValidateRequest{Code: code})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &tok)
		assert.NotEmpty(t, tok.Token)
		assert.Equal(t, principal.KindStudent, tok.Type)
	})

	t.Run("session is consumed", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/auth/validate/"+session.SessionID, "", echoapi.ValidateRequest{Code: code})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, invalidSession, rec.Body.String())
	})

	t.Run("me", func(t *testing.T) {
		for name, header := range map[string]string{"raw": tok.Token, "bearer": "Bearer " + tok.Token} {
			rec := app.do(t, http.MethodGet, "/auth/me", "", nil, func(r *http.Request) {
				r.Header.Set("Authorization", header)
			})
			require.Equal(t, http.StatusOK, rec.Code, name)

			var p principal.Principal
			decode(t, rec, &p)
			assert.Equal(t, student.Ref, p.Ref, name)
			assert.Equal(t, "bob@uni.test", p.Email, name)
			assert.Equal(t, principal.NewRoleSet(principal.RoleStudent), p.Roles, name)
			assert.NotContains(t, rec.Body.String(), "password", name)
		}
	})

	t.Run("trusted origin gets a token", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd})
		require.Equal(t, http.StatusOK, rec.Code)
		var res echoapi.TokenResponse
		decode(t, rec, &res)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, principal.KindStudent, res.Type)
	})

	t.Run("forwarded header is ignored without a trusted proxy", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd},
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", "198.51.100.1") })
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sessionId")
	})
}

func TestAuthAPI_TrustProxy(t *testing.T) {
	app := newTestApp(t, func(c *core.Config) { c.Server.TrustProxy = true })
	testutil.CreateStudent(t, app.db, "Bob", "bob@uni.test", "2024B1", pwd)
	proxy := fromAddr("10.0.0.1:4321")
	forwarded := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}

	rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd}, proxy, forwarded("203.0.113.7"))
	require.Equal(t, http.StatusOK, rec.Code)
	var session echoapi.SessionResponse
	decode(t, rec, &session)

	rec = app.do(t, http.MethodPost, "/auth/validate/"+session.SessionID, "", echoapi.ValidateRequest{Code: app.lastCode(t)}, proxy, forwarded("203.0.113.7"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// same client
	rec = app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd}, proxy, forwarded("203.0.113.7"))
	assert.NotContains(t, rec.Body.String(), "sessionId")

	// another client behind the same proxy
	rec = app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "bob@uni.test", Password: pwd}, proxy, forwarded("203.0.113.8"))
	assert.Contains(t, rec.Body.String(), "sessionId")
}

func TestAuthAPI_Resend(t *testing.T) {
	app := newTestApp(t)
	testutil.CreateStaff(t, app.db, "Ada", "ada@uni.test", pwd)

	rec := app.do(t, http.MethodPost, "/auth/login", "", echoapi.LoginRequest{Username: "ada@uni.test", Password: pwd})
	require.Equal(t, http.StatusOK, rec.Code)
	var session echoapi.SessionResponse
	decode(t, rec, &session)
	code := app.lastCode(t)

	rec = app.do(t, http.MethodPost, "/auth/resend/"+session.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, marshal(t, session), rec.Body.String())
	assert.Len(t, app.mailer.SentMessages(), 2)
	assert.Equal(t, code, app.lastCode(t))

	for _, path := range []string{"/auth/resend/nope", "/auth/resend/4b4d6a3e-0000-4000-8000-000000000000"} {
		rec = app.do(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.JSONEq(t, marshal(t, httpErr{Error: auth.ErrInvalidSession.Error()}), rec.Body.String(), path)
	}
}

func TestAuthAPI_Unauthorized(t *testing.T) {
	app := newTestApp(t)
	ghost, err := app.tokens.Issue(principal.Ref{ID: 42, Kind: principal.KindStaff})
	require.NoError(t, err)
	unauthorized := marshal(t, httpErr{Error: auth.ErrUnauthorized.Error()})

	for _, tt := range []struct{ name, path, header string }{
		{name: "missing", path: "/auth/me"},
		{name: "bearer only", path: "/auth/me", header: "Bearer "},
		{name: "garbage", path: "/auth/me", header: "Bearer lol"},
		{name: "unknown principal", path: "/auth/me", header: ghost},
		{name: "entity routes", path: "/courses", header: "lol"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodGet, tt.path, "", nil, func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set("Authorization", tt.header)
				}
			})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, unauthorized, rec.Body.String())
		})
	}
}

func TestAcademicAPI(t *testing.T) {
	app := newTestApp(t)
	admin := testutil.CreateStaff(t, app.db, "Admin", "admin@uni.test", pwd, principal.RoleAdmin)
	prof := testutil.CreateStaff(t, app.db, "Prof", "prof@uni.test", pwd)
	outsider := testutil.CreateStaff(t, app.db, "Out", "out@uni.test", pwd)
	student := testutil.CreateStudent(t, app.db, "Bob", "bob@uni.test", "2024B1", pwd)
	adminTok, profTok, outTok, studentTok := app.token(t, admin), app.token(t, prof), app.token(t, outsider), app.token(t, student)

	rec := app.do(t, http.MethodPost, "/courses", adminTok, academic.NewCourse{Code: "cs101", Name: "Intro"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var course academic.Course
	decode(t, rec, &course)
	assert.Equal(t, "CS101", course.Code)

	rec = app.do(t, http.MethodPost, "/sections", adminTok, academic.NewSection{
		CourseID: course.ID, Period: academic.PeriodEvening, Year: 2024, YearSemester: 2, Semester: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var section academic.Section
	decode(t, rec, &section)
	sectionPath := fmt.Sprintf("/sections/%d", section.ID)

	rec = app.do(t, http.MethodPut, sectionPath+"/professor", adminTok, echoapi.OwnerRequest{StaffID: prof.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(t, http.MethodPost, sectionPath+"/students", profTok, echoapi.EnrollRequest{StudentID: student.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/courses", adminTok, academic.NewCourse{Code: "ma101", Name: "Calculus"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	coursePath := fmt.Sprintf("/courses/%d", course.ID)

	forbidden := marshal(t, httpErr{Error: access.ErrForbidden.Error()})
	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     interface{}
		wantCode int
		wantData string
	}{
		{
			name: "admin only course creation", method: http.MethodPost, path: "/courses", token: profTok,
			body: academic.NewCourse{Code: "X1", Name: "X"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "duplicate course", method: http.MethodPost, path: "/courses", token: adminTok,
			body: academic.NewCourse{Code: "CS101", Name: "Dup"}, wantCode: http.StatusBadRequest,
			wantData: `{"code": "a course with this code already exists"}`,
		},
		{
			name: "invalid course", method: http.MethodPost, path: "/courses", token: adminTok,
			body: academic.NewCourse{Code: "cs 1"}, wantCode: http.StatusBadRequest,
			wantData: `{"code": "only alphanumeric characters and underscores are allowed", "name": "this field is required"}`,
		},
		{
			name: "course update is admin only", method: http.MethodPatch, path: coursePath, token: profTok,
			body: academic.UpdateCourse{Name: "Mine"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "course update code taken", method: http.MethodPatch, path: coursePath, token: adminTok,
			body: academic.UpdateCourse{Code: "ma101"}, wantCode: http.StatusBadRequest,
			wantData: `{"code": "a course with this code already exists"}`,
		},
		{
			name: "duplicate section", method: http.MethodPost, path: "/sections", token: adminTok,
			body: academic.NewSection{CourseID: course.ID, Period: "evening", Year: 2024, YearSemester: 2, Semester: 1},
			wantCode: http.StatusConflict, wantData: marshal(t, httpErr{Error: academic.ErrSectionExists.Error()}),
		},
		{
			name: "double enrollment", method: http.MethodPost, path: sectionPath + "/students", token: adminTok,
			body: echoapi.EnrollRequest{StudentID: student.ID}, wantCode: http.StatusConflict,
			wantData: marshal(t, httpErr{Error: academic.ErrAlreadyEnrolled.Error()}),
		},
		{
			name: "enroll staff", method: http.MethodPost, path: sectionPath + "/students", token: adminTok,
			body: echoapi.EnrollRequest{StudentID: outsider.ID}, wantCode: http.StatusBadRequest,
			wantData: marshal(t, httpErr{Error: academic.ErrNotStudent.Error()}),
		},
		{
			name: "enroll without student", method: http.MethodPost, path: sectionPath + "/students", token: adminTok,
			body: echoapi.EnrollRequest{}, wantCode: http.StatusBadRequest, wantData: `{"student_id": "this field is required"}`,
		},
		{
			name: "professor cannot reassign", method: http.MethodPut, path: sectionPath + "/professor", token: profTok,
			body: echoapi.OwnerRequest{StaffID: outsider.ID}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "student permissions", method: http.MethodGet, path: sectionPath + "/permissions", token: studentTok,
			wantCode: http.StatusOK, wantData: `{"view": true, "edit": false}`,
		},
		{
			name: "outsider permissions", method: http.MethodGet, path: sectionPath + "/permissions", token: outTok,
			wantCode: http.StatusOK, wantData: `{"view": false, "edit": false}`,
		},
		{
			name: "outsider cannot view", method: http.MethodGet, path: sectionPath, token: outTok,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "outsider lists nothing", method: http.MethodGet, path: "/sections", token: outTok,
			wantCode: http.StatusOK, wantData: `[]`,
		},
		{
			name: "student lists courses", method: http.MethodGet, path: "/courses", token: studentTok,
			wantCode: http.StatusOK, wantData: marshal(t, []academic.Course{course}),
		},
		{
			name: "student cannot delete", method: http.MethodDelete, path: sectionPath, token: studentTok,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "malformed id", method: http.MethodGet, path: "/sections/abc", token: adminTok,
			wantCode: http.StatusNotFound, wantData: `{"error": "not found"}`,
		},
		{
			name: "unknown section", method: http.MethodGet, path: "/sections/9999", token: adminTok,
			wantCode: http.StatusNotFound, wantData: marshal(t, httpErr{Error: academic.ErrNotFound.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantData, rec.Body.String())
		})
	}

	t.Run("updates", func(t *testing.T) {
		rec := app.do(t, http.MethodPatch, coursePath, adminTok, academic.UpdateCourse{Code: "cs100", Name: "Intro to CS"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var c academic.Course
		decode(t, rec, &c)
		assert.Equal(t, "CS100", c.Code)
		assert.Equal(t, "Intro to CS", c.Name)

		inactive := false
		rec = app.do(t, http.MethodPatch, sectionPath, profTok, academic.UpdateSection{IsActive: &inactive})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var s academic.Section
		decode(t, rec, &s)
		assert.False(t, s.IsActive)
	})

	t.Run("assignment lifecycle", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/assignments", profTok, academic.NewAssignment{SectionID: section.ID, Title: "HW1"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var a academic.Assignment
		decode(t, rec, &a)
		path := fmt.Sprintf("/assignments/%d", a.ID)

		rec = app.do(t, http.MethodGet, path, studentTok, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = app.do(t, http.MethodPatch, path, studentTok, academic.UpdateAssignment{Title: "mine"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(t, http.MethodPatch, path, profTok, academic.UpdateAssignment{Title: "HW1 (v2)"})
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &a)
		assert.Equal(t, "HW1 (v2)", a.Title)

		rec = app.do(t, http.MethodDelete, path, profTok, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = app.do(t, http.MethodGet, path, studentTok, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unenroll", func(t *testing.T) {
		rec := app.do(t, http.MethodDelete, fmt.Sprintf("%s/students/%d", sectionPath, student.ID), profTok, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = app.do(t, http.MethodGet, sectionPath, studentTok, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("delete course", func(t *testing.T) {
		path := fmt.Sprintf("/courses/%d", course.ID)
		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, path, profTok, nil).Code)
		assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, path, adminTok, nil).Code)
		assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, sectionPath, adminTok, nil).Code)
	})
}

type apiCase struct {
	name     string
	method   string
	path     string
	token    string
	body     interface{}
	wantCode int
	wantData string
}

func (app *testApp) run(t *testing.T, tests []apiCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantData, rec.Body.String())
		})
	}
}

// newSection creates a course with one section through the API and returns the section.
func (app *testApp) newSection(t *testing.T, adminTok, code string) academic.Section {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/courses", adminTok, academic.NewCourse{Code: code, Name: code})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var course academic.Course
	decode(t, rec, &course)

	rec = app.do(t, http.MethodPost, "/sections", adminTok, academic.NewSection{
		CourseID: course.ID, Period: academic.PeriodMorning, Year: 2024, YearSemester: 1, Semester: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var section academic.Section
	decode(t, rec, &section)
	return section
}

func refs(t *testing.T, rec *httptest.ResponseRecorder) []int64 {
	t.Helper()
	var ps []principal.Principal
	decode(t, rec, &ps)
	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestPrincipalAPI(t *testing.T) {
	app := newTestApp(t)
	admin := testutil.CreateStaff(t, app.db, "Admin", "admin@uni.test", pwd, principal.RoleAdmin)
	coord := testutil.CreateStaff(t, app.db, "Coord", "coord@uni.test", pwd, principal.RoleCoordinator)
	prof := testutil.CreateStaff(t, app.db, "Prof", "prof@uni.test", pwd, principal.RoleProfessor)
	plain := testutil.CreateStaff(t, app.db, "Plain", "plain@uni.test", pwd)
	bob := testutil.CreateStudent(t, app.db, "Bob", "bob@uni.test", "2024B1", pwd)
	_ = testutil.CreateStudent(t, app.db, "Cy", "cy@uni.test", "2024C1", pwd)
	adminTok, coordTok, profTok := app.token(t, admin), app.token(t, coord), app.token(t, prof)
	plainTok, bobTok := app.token(t, plain), app.token(t, bob)

	forbidden := marshal(t, httpErr{Error: access.ErrForbidden.Error()})
	app.run(t, []apiCase{
		{
			name: "staff list needs a managing role", method: http.MethodGet, path: "/staff", token: profTok,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "roles and exclude_roles conflict", method: http.MethodGet, path: "/staff?roles=admin&exclude_roles=professor",
			token: adminTok, wantCode: http.StatusBadRequest,
			wantData: marshal(t, map[string]string{"exclude_roles": principal.ErrFilterConflict.Error()}),
		},
		{
			name: "unknown role filter", method: http.MethodGet, path: "/staff?roles=janitor", token: coordTok,
			wantCode: http.StatusBadRequest, wantData: marshal(t, map[string]string{"roles": `"JANITOR": invalid role`}),
		},
		{
			name: "staff creation is admin only", method: http.MethodPost, path: "/staff", token: coordTok,
			body: echoapi.NewStaffRequest{Name: "Grace", Email: "grace@uni.test"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "unknown staff", method: http.MethodGet, path: "/staff/9999", token: adminTok,
			wantCode: http.StatusNotFound, wantData: marshal(t, httpErr{Error: principal.ErrNotFound.Error()}),
		},
		{
			name: "staff cannot edit someone else", method: http.MethodPatch, path: fmt.Sprintf("/staff/%d", coord.ID), token: profTok,
			body: principal.UpdatePrincipal{Name: "Boss"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "email taken", method: http.MethodPatch, path: fmt.Sprintf("/staff/%d", prof.ID), token: adminTok,
			body: principal.UpdatePrincipal{Email: "Admin@uni.test"}, wantCode: http.StatusBadRequest,
			wantData: marshal(t, map[string]string{"email": principal.ErrEmailExists.Error()}),
		},
		{
			name: "only admins grant admin", method: http.MethodPost, path: fmt.Sprintf("/staff/%d/roles", prof.ID), token: coordTok,
			body: echoapi.RoleRequest{Role: "admin"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "implied role", method: http.MethodPost, path: fmt.Sprintf("/staff/%d/roles", prof.ID), token: adminTok,
			body: echoapi.RoleRequest{Role: "staff"}, wantCode: http.StatusBadRequest,
			wantData: marshal(t, httpErr{Error: principal.ErrRoleNotAssignable.Error()}),
		},
		{
			name: "missing role", method: http.MethodPost, path: fmt.Sprintf("/staff/%d/roles", prof.ID), token: adminTok,
			body: echoapi.RoleRequest{}, wantCode: http.StatusBadRequest, wantData: `{"role": "this field is required"}`,
		},
		{
			name: "students cannot list students", method: http.MethodGet, path: "/students", token: bobTok,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "unknown student", method: http.MethodGet, path: "/students/2024Z9", token: profTok,
			wantCode: http.StatusNotFound, wantData: marshal(t, httpErr{Error: principal.ErrNotFound.Error()}),
		},
		{
			name: "student cannot edit another student", method: http.MethodPatch, path: "/students/2024C1", token: bobTok,
			body: principal.UpdatePrincipal{Name: "Cyborg"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "staff without teaching role cannot edit students", method: http.MethodPatch, path: "/students/2024C1", token: plainTok,
			body: principal.UpdatePrincipal{Name: "Cyborg"}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
	})

	t.Run("list staff", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/staff", coordTok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []int64{admin.ID, coord.ID, prof.ID, plain.ID}, refs(t, rec))
		assert.NotContains(t, rec.Body.String(), "password")

		rec = app.do(t, http.MethodGet, "/staff?roles=Professor,ADMIN", adminTok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []int64{admin.ID, prof.ID}, refs(t, rec))

		rec = app.do(t, http.MethodGet, "/staff?exclude_roles=admin,coordinator", adminTok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []int64{prof.ID, plain.ID}, refs(t, rec))
	})

	t.Run("create staff", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/staff", adminTok, echoapi.NewStaffRequest{
			Name: "Grace", Email: "Grace@Uni.test", Roles: []principal.Role{principal.RoleProfessor},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var p principal.Principal
		decode(t, rec, &p)
		assert.Equal(t, "grace@uni.test", p.Email)
		assert.Equal(t, principal.NewRoleSet(principal.RoleProfessor, principal.RoleStaff), p.Roles)

		msg, ok := app.mailer.LastMessage()
		require.True(t, ok)
		assert.Equal(t, core.TemplateNewAccount, msg.TemplateName)
		assert.Equal(t, "grace@uni.test", msg.To[0].Address)
	})

	t.Run("add role", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, fmt.Sprintf("/staff/%d/roles", plain.ID), coordTok, echoapi.RoleRequest{Role: "professor"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var p principal.Principal
		decode(t, rec, &p)
		assert.True(t, p.HasRole(principal.RoleProfessor))
	})

	t.Run("update own profile", func(t *testing.T) {
		rec := app.do(t, http.MethodPatch, fmt.Sprintf("/staff/%d", prof.ID), profTok, principal.UpdatePrincipal{Name: " Prof X "})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var p principal.Principal
		decode(t, rec, &p)
		assert.Equal(t, "Prof X", p.Name)
		assert.Equal(t, "prof@uni.test", p.Email)

		rec = app.do(t, http.MethodPatch, "/students/2024b1", bobTok, principal.UpdatePrincipal{Email: "bobby@uni.test"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &p)
		assert.Equal(t, bob.Ref, p.Ref)
		assert.Equal(t, "bobby@uni.test", p.Email)
	})

	t.Run("find or create student", func(t *testing.T) {
		ns := principal.NewStudent{Name: "Dee", Email: "dee@uni.test", Registration: "2024d1"}
		rec := app.do(t, http.MethodPost, "/students", profTok, ns)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var created principal.Principal
		decode(t, rec, &created)
		assert.Equal(t, "2024D1", created.Registration)
		msg, ok := app.mailer.LastMessage()
		require.True(t, ok)
		assert.Equal(t, "dee@uni.test", msg.To[0].Address)

		sent := len(app.mailer.SentMessages())
		rec = app.do(t, http.MethodPost, "/students", coordTok, ns)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var found principal.Principal
		decode(t, rec, &found)
		assert.Equal(t, created.Ref, found.Ref)
		assert.Len(t, app.mailer.SentMessages(), sent)

		rec = app.do(t, http.MethodGet, "/students", adminTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, refs(t, rec), 3)
	})

	t.Run("student sections", func(t *testing.T) {
		section := app.newSection(t, adminTok, "cs101")
		path := "/students/2024B1/sections"

		rec := app.do(t, http.MethodPost, path, bobTok, echoapi.SectionRequest{SectionID: section.ID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = app.do(t, http.MethodPost, path, adminTok, echoapi.SectionRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = app.do(t, http.MethodPost, path, adminTok, echoapi.SectionRequest{SectionID: section.ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = app.do(t, http.MethodGet, path, bobTok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, marshal(t, []academic.Section{section}), rec.Body.String())
		rec = app.do(t, http.MethodGet, "/students/2024C1/sections", bobTok, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", path, section.ID), profTok, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = app.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", path, section.ID), adminTok, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = app.do(t, http.MethodGet, path, plainTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		section := app.newSection(t, adminTok, "ma101")
		rec := app.do(t, http.MethodPut, fmt.Sprintf("/courses/%d/coordinator", section.CourseID), adminTok, echoapi.OwnerRequest{StaffID: coord.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = app.do(t, http.MethodDelete, fmt.Sprintf("/staff/%d", coord.ID), adminTok, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, marshal(t, httpErr{Error: principal.ErrRoleInUse.Error()}), rec.Body.String())

		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, fmt.Sprintf("/staff/%d", prof.ID), coordTok, nil).Code)
		assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, fmt.Sprintf("/staff/%d", prof.ID), adminTok, nil).Code)
		assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, fmt.Sprintf("/staff/%d", prof.ID), adminTok, nil).Code)
		assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/auth/me", profTok, nil).Code)

		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, "/students/2024C1", bobTok, nil).Code)
		assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, "/students/2024C1", coordTok, nil).Code)
		assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/students/2024C1", coordTok, nil).Code)
	})
}

func TestGroupAPI(t *testing.T) {
	app := newTestApp(t)
	admin := testutil.CreateStaff(t, app.db, "Admin", "admin@uni.test", pwd, principal.RoleAdmin)
	prof := testutil.CreateStaff(t, app.db, "Prof", "prof@uni.test", pwd, principal.RoleProfessor)
	other := testutil.CreateStaff(t, app.db, "Other", "other@uni.test", pwd, principal.RoleProfessor)
	bob := testutil.CreateStudent(t, app.db, "Bob", "bob@uni.test", "2024B1", pwd)
	_ = testutil.CreateStudent(t, app.db, "Cy", "cy@uni.test", "2024C1", pwd)
	_ = testutil.CreateStudent(t, app.db, "Dee", "dee@uni.test", "2024D1", pwd)
	adminTok, profTok, otherTok, bobTok := app.token(t, admin), app.token(t, prof), app.token(t, other), app.token(t, bob)

	section := app.newSection(t, adminTok, "cs101")
	sectionPath := fmt.Sprintf("/sections/%d", section.ID)
	rec := app.do(t, http.MethodPut, sectionPath+"/professor", adminTok, echoapi.OwnerRequest{StaffID: prof.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(t, http.MethodPost, sectionPath+"/students", profTok, echoapi.EnrollRequest{StudentID: bob.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	forbidden := marshal(t, httpErr{Error: access.ErrForbidden.Error()})
	app.run(t, []apiCase{
		{
			name: "students cannot create groups", method: http.MethodPost, path: "/groups", token: bobTok,
			body: academic.NewGroup{SectionID: section.ID, Name: "A", Members: []string{"2024B1"}}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "leader must be a member", method: http.MethodPost, path: "/groups", token: profTok,
			body: academic.NewGroup{SectionID: section.ID, Name: "A", Members: []string{"2024B1"}, Leader: "2024C1"},
			wantCode: http.StatusBadRequest, wantData: marshal(t, map[string]string{"leader": academic.ErrLeaderNotMember.Error()}),
		},
		{
			name: "duplicate members", method: http.MethodPost, path: "/groups", token: profTok,
			body: academic.NewGroup{SectionID: section.ID, Name: "A", Members: []string{"2024b1", "2024B1"}},
			wantCode: http.StatusBadRequest, wantData: `{"members": "members must be distinct"}`,
		},
		{
			name: "unknown student", method: http.MethodPost, path: "/groups", token: profTok,
			body: academic.NewGroup{SectionID: section.ID, Name: "A", Members: []string{"2024Z9"}},
			wantCode: http.StatusNotFound, wantData: marshal(t, httpErr{Error: academic.ErrStudentNotFound.Error()}),
		},
		{
			name: "professor of another section", method: http.MethodPost, path: "/groups", token: otherTok,
			body: academic.NewGroup{SectionID: section.ID, Name: "A", Members: []string{"2024B1"}}, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "unknown section", method: http.MethodPost, path: "/groups", token: adminTok,
			body: academic.NewGroup{SectionID: 9999, Name: "A", Members: []string{"2024B1"}},
			wantCode: http.StatusNotFound, wantData: marshal(t, httpErr{Error: academic.ErrNotFound.Error()}),
		},
		{
			name: "malformed section filter", method: http.MethodGet, path: "/groups?section_id=abc", token: adminTok,
			wantCode: http.StatusBadRequest, wantData: `{"section_id": "must be a positive integer"}`,
		},
	})

	var group academic.Group
	t.Run("create", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/groups", profTok, academic.NewGroup{
			SectionID: section.ID, Name: " Team A ", Members: []string{"2024b1", "2024c1"}, Leader: "2024c1",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &group)
		assert.Equal(t, "Team A", group.Name)
		require.Len(t, group.Members, 2)
		leader, ok := group.Leader()
		require.True(t, ok)
		assert.Equal(t, "2024C1", leader.Registration)

		rec = app.do(t, http.MethodPost, "/groups", adminTok, academic.NewGroup{SectionID: section.ID, Name: "B", Members: []string{"2024D1", "2024C1"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"members": "students 2024C1 are already in a group in this section"}`, rec.Body.String())
	})

	t.Run("list and retrieve", func(t *testing.T) {
		path := fmt.Sprintf("/groups/%d", group.ID)
		want := marshal(t, []academic.Group{group})
		for name, tok := range map[string]string{"admin": adminTok, "professor": profTok, "enrolled student": bobTok} {
			rec := app.do(t, http.MethodGet, "/groups", tok, nil)
			require.Equal(t, http.StatusOK, rec.Code, name)
			assert.JSONEq(t, want, rec.Body.String(), name)

			rec = app.do(t, http.MethodGet, fmt.Sprintf("/groups?section_id=%d", section.ID), tok, nil)
			require.Equal(t, http.StatusOK, rec.Code, name)
			assert.JSONEq(t, want, rec.Body.String(), name)

			rec = app.do(t, http.MethodGet, path, tok, nil)
			require.Equal(t, http.StatusOK, rec.Code, name)
			assert.JSONEq(t, marshal(t, group), rec.Body.String(), name)
		}

		rec := app.do(t, http.MethodGet, "/groups", otherTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, path, otherTok, nil).Code)
	})

	t.Run("delete", func(t *testing.T) {
		path := fmt.Sprintf("/groups/%d", group.ID)
		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, path, bobTok, nil).Code)
		assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodDelete, path, otherTok, nil).Code)
		assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, path, profTok, nil).Code)
		assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, path, adminTok, nil).Code)
	})
}
