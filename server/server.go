package main

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/russross/autograder/types"
	"github.com/russross/meddler"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	Hostname      string `json:"hostname"`      // Hostname for the site: "your.host.goes.here"
	SessionSecret string `json:"sessionSecret"` // Random string used to sign cookie sessions: `head -c 32 /dev/urandom | base64`
	LoginSecret   string `json:"loginSecret"`   // Shared secret the login proxy presents when creating sessions

	// Canvas parameters
	CanvasBaseURL  string `json:"canvasBaseURL"`  // Canvas instance: "https://byu.instructure.com"
	CanvasToken    string `json:"canvasToken"`    // Canvas API token for the grader account
	CanvasCourseID int    `json:"canvasCourseID"` // Canvas course ID

	// grading parameters
	DockerEndpoint string   `json:"dockerEndpoint"` // Docker daemon: default "unix:///var/run/docker.sock"
	GraderImage    string   `json:"graderImage"`    // Docker image holding the course graders
	MemoryLimitMB  int64    `json:"memoryLimitMB"`  // per-container memory limit: default 2048
	Timezone       string   `json:"timezone"`       // course timezone: default "America/Denver"
	StaffNetIDs    []string `json:"staffNetIDs"`    // netIDs granted staff sessions

	// parameters where the default is usually sufficient
	SQLite3Path string `json:"sqlite3Path"` // path to the sqlite database file: default "$AUTOGRADERROOT/db/autograder.db"
}

var root string
var port string

func main() {
	log.SetFlags(log.Lshortfile)

	root = os.Getenv("AUTOGRADERROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("AUTOGRADERROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "autograder")
	}
	log.Printf("AUTOGRADERROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	log.Printf("port set to %s", port)

	// parse command line
	var use_config, memory bool
	flag.BoolVar(&use_config, "config", false, "Use config.json for config data (for testing)")
	flag.BoolVar(&memory, "memory", false, "Use in-memory stores instead of sqlite (for development)")
	flag.Parse()

	// set config defaults
	Config.DockerEndpoint = "unix:///var/run/docker.sock"
	Config.MemoryLimitMB = 2048
	Config.Timezone = "America/Denver"
	Config.SQLite3Path = filepath.Join(root, "db", "autograder.db")

	// load config
	if use_config {
		configFile := filepath.Join(root, "config.json")
		if raw, err := os.ReadFile(configFile); err != nil {
			log.Fatalf("failed to load config file %q: %v", configFile, err)
		} else if err := json.Unmarshal(raw, &Config); err != nil {
			log.Fatalf("failed to parse config file: %v", err)
		}
	} else {
		Config.Hostname = os.Getenv("AUTOGRADER_HOSTNAME")
		Config.SessionSecret = os.Getenv("AUTOGRADER_SESSIONSECRET")
		Config.LoginSecret = os.Getenv("AUTOGRADER_LOGINSECRET")
		Config.CanvasBaseURL = os.Getenv("AUTOGRADER_CANVASBASEURL")
		Config.CanvasToken = os.Getenv("AUTOGRADER_CANVASTOKEN")
		Config.GraderImage = os.Getenv("AUTOGRADER_GRADERIMAGE")
		if raw := os.Getenv("AUTOGRADER_CANVASCOURSEID"); raw != "" {
			fmt.Sscanf(raw, "%d", &Config.CanvasCourseID)
		}
		if raw := os.Getenv("AUTOGRADER_STAFFNETIDS"); raw != "" {
			Config.StaffNetIDs = strings.Split(raw, ",")
		}
	}
	Config.SessionSecret = unBase64(Config.SessionSecret)
	Config.LoginSecret = unBase64(Config.LoginSecret)

	if Config.Hostname == "" {
		log.Fatalf("cannot run with no hostname in the config file")
	}
	if Config.SessionSecret == "" {
		log.Fatalf("cannot run with no sessionSecret in the config file")
	}
	if Config.LoginSecret == "" {
		log.Fatalf("cannot run with no loginSecret in the config file")
	}
	if Config.GraderImage == "" {
		log.Fatalf("cannot run with no graderImage in the config file")
	}

	location, err := time.LoadLocation(Config.Timezone)
	if err != nil {
		log.Fatalf("unknown timezone %q: %v", Config.Timezone, err)
	}

	// set up the stores
	var store *storeSet
	if memory {
		log.Printf("using in-memory stores; all state is lost on exit")
		mem := newMemoryStore()
		store = &storeSet{mem, mem, mem, mem}
	} else {
		db := setupDB(Config.SQLite3Path)
		createSchema(db)
		sqlite := newSqliteStore(db)
		store = &storeSet{sqlite, sqlite, sqlite, sqlite}
	}

	// set up the gradebook
	var gradebook GradeBook
	if Config.CanvasToken != "" && Config.CanvasCourseID > 0 {
		gradebook = newCanvasGradeBook(Config.CanvasBaseURL, Config.CanvasToken, Config.CanvasCourseID)
	} else {
		log.Printf("no Canvas credentials configured; grades will not be recorded")
		gradebook = nullGradeBook{}
	}

	runner, err := newDockerRunner(Config.DockerEndpoint, Config.GraderImage, Config.MemoryLimitMB<<20)
	if err != nil {
		log.Fatalf("grader runner: %v", err)
	}

	deps := &graderDeps{
		store:     store,
		gradebook: gradebook,
		runner:    runner,
		location:  location,
	}
	registry := newObserverRegistry()
	controller := newTrafficController(deps, registry, 10*time.Minute)
	if err := controller.Start(context.Background()); err != nil {
		log.Fatalf("failed to start grading worker: %v", err)
	}

	// set up martini
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "", log.Lshortfile))
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	counter := func(w http.ResponseWriter, r *http.Request, c martini.Context) {
		start := time.Now()
		c.Next()
		now := time.Now()
		seconds := now.Sub(start).Seconds()
		hits++
		hitsCounter.Add(1)
		if seconds > slowest {
			slowest = seconds
			slowestCounter.Set(seconds)
			slowestTimeCounter.Set(now.Format(time.RFC1123))
			slowestPathCounter.Set(r.URL.Path)
		}
		totalSeconds += seconds
		totalSecondsCounter.Add(seconds)
		averageSecondsCounter.Set(totalSeconds / float64(hits))
		rw := w.(martini.ResponseWriter)
		if rw.Status() >= 400 {
			errorsCounter.Add(1)
		}
		goroutineCounter.Set(int64(runtime.NumGoroutine()))
	}

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{IndentJSON: false}))
	m.Map(store)
	m.Map(deps)
	m.Map(registry)
	m.Map(controller)
	m.MapTo(gradebook, (*GradeBook)(nil))

	// martini service: require an active logged-in session
	withCurrentUser := func(c martini.Context, w http.ResponseWriter, r *http.Request) {
		session, err := GetSession(r)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: try logging in again")
			log.Printf("%v", err)
			return
		}
		c.Map(session)
	}

	// martini service: require the session to belong to course staff
	staffOnly := func(w http.ResponseWriter, session *CookieSession) {
		if !session.Staff {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "user %s is not course staff", session.NetID)
			return
		}
	}

	// martini middleware: decompress incoming requests
	gunzip := func(c martini.Context, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			return
		}

		r.Header.Del("Content-Encoding")
		body := r.Body
		var err error
		r.Body, err = gzip.NewReader(body)
		defer body.Close()
		if err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "gzip error in request: %v", err)
			return
		}
		c.Next()
	}

	// version
	r.Get("/v2/version", counter, func(w http.ResponseWriter, render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// sessions
	r.Post("/v2/sessions", counter, gunzip, binding.Json(LoginRequest{}), PostSession)

	// submissions
	r.Post("/v2/submissions", counter, withCurrentUser, gunzip, binding.Json(SubmissionRequest{}), PostSubmission)
	r.Get("/v2/submissions", counter, withCurrentUser, GetSubmissions)
	r.Get("/v2/submissions/:phase/latest", counter, withCurrentUser, GetSubmissionLatest)
	r.Get("/v2/students/:net_id/submissions", counter, withCurrentUser, staffOnly, GetStudentSubmissions)

	// queue
	r.Get("/v2/queue", counter, withCurrentUser, staffOnly, GetQueue)
	r.Get("/v2/sockets/queue", WatchQueueSocket)

	// approvals
	r.Post("/v2/students/:net_id/approve", counter, withCurrentUser, staffOnly, gunzip, binding.Json(ApprovalRequest{}), PostApproval)

	// banner
	r.Get("/v2/banner", counter, GetBanner)

	// runtime config
	r.Get("/v2/config", counter, withCurrentUser, staffOnly, GetConfig)
	r.Put("/v2/config", counter, withCurrentUser, staffOnly, gunzip, binding.Json(ConfigEntry{}), PutConfig)

	// rubrics
	r.Get("/v2/rubrics/:phase", counter, withCurrentUser, staffOnly, GetRubricConfig)
	r.Put("/v2/rubrics", counter, withCurrentUser, staffOnly, gunzip, binding.Json(RubricConfig{}), PutRubricConfig)

	// stats
	r.Get("/v2/stats", counter, withCurrentUser, staffOnly, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, "{\n")
		first := true
		expvar.Do(func(kv expvar.KeyValue) {
			if !first {
				fmt.Fprintf(w, ",\n")
			}
			first = false
			fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
		})
		fmt.Fprintf(w, "\n}\n")
	})

	// note: this will work behind a TLS proxy or for debugging with some calls
	log.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

func setupDB(path string) *sql.DB {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rwc" +
			"&" + "_busy_timeout=10000" +
			"&" + "_cache_size=-20000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL" +
			"&" + "_temp_store=MEMORY"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	return db
}

func createSchema(db *sql.DB) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS queue (
			net_id TEXT NOT NULL PRIMARY KEY,
			phase TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			time_added TIMESTAMP NOT NULL,
			started BOOLEAN NOT NULL DEFAULT 0,
			admin BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			net_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			head_hash TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			phase TEXT NOT NULL,
			passed BOOLEAN NOT NULL,
			score REAL NOT NULL,
			raw_score REAL NOT NULL,
			notes TEXT,
			rubric TEXT,
			admin BOOLEAN NOT NULL DEFAULT 0,
			verified_status TEXT,
			commit_context TEXT,
			commit_result TEXT,
			verification TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS submissions_net_id_phase ON submissions (net_id, phase)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rubric_configs (
			phase TEXT NOT NULL PRIMARY KEY,
			items TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("error creating schema: %v", err)
		}
	}
}

// nullGradeBook is used when no Canvas credentials are configured.
// Everything is due never and nothing is recorded.
type nullGradeBook struct{}

func (nullGradeBook) DueDate(assignmentNum int, netID string) (time.Time, error) {
	return time.Time{}, nil
}

func (nullGradeBook) CurrentScore(assignmentNum int, netID string) (float64, error) {
	return 0, nil
}

func (nullGradeBook) SubmitGrade(assignmentNum int, netID string, earned float64, rubric *Rubric, config *RubricConfig, notes string) error {
	log.Printf("gradebook disabled: dropping %f points for %s on assignment %d", earned, netID, assignmentNum)
	return nil
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func logPrefix() string {
	prefix := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		prefix = fmt.Sprintf("%s:%d: ", file, line)
	}
	return prefix
}

func mustMarshal(elt interface{}) []byte {
	raw, err := json.Marshal(elt)
	if err != nil {
		log.Fatalf("json Marshal error for % #v", elt)
	}
	return raw
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

var (
	hits                  int
	hitsCounter           = expvar.NewInt("hits")
	slowest               float64
	slowestCounter        = expvar.NewFloat("slowestSeconds")
	slowestPathCounter    = expvar.NewString("slowestPath")
	slowestTimeCounter    = expvar.NewString("slowestTime")
	totalSeconds          float64
	totalSecondsCounter   = expvar.NewFloat("totalSeconds")
	averageSecondsCounter = expvar.NewFloat("averageSeconds")
	errorsCounter         = expvar.NewInt("errors")
	goroutineCounter      = expvar.NewInt("goroutines")
)
