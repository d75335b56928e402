package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/gorilla/websocket"
	"github.com/martini-contrib/render"
	. "github.com/russross/autograder/types"
)

type LoginRequest struct {
	NetID  string `json:"netID"`
	Secret string `json:"secret"`
}

// PostSession issues a signed session cookie. The login proxy in front
// of the grader authenticates the student against the university SSO
// and presents the shared secret here.
func PostSession(w http.ResponseWriter, req LoginRequest, render render.Render) {
	if req.Secret != Config.LoginSecret {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "login rejected")
		return
	}
	if req.NetID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "login request must include a netID")
		return
	}

	staff := false
	for _, elt := range Config.StaffNetIDs {
		if elt == req.NetID {
			staff = true
		}
	}
	session := NewSession(req.NetID, staff)
	session.Save(w)
	render.JSON(http.StatusOK, session)
}

type SubmissionRequest struct {
	Phase   string `json:"phase"`
	RepoURL string `json:"repoURL"`

	// staff only: grade another student's repo, or run without
	// recording a grade
	NetID string `json:"netID,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// PostSubmission admits a grading request into the queue and reports
// the queue position.
func PostSubmission(w http.ResponseWriter, session *CookieSession, req SubmissionRequest, controller *trafficController, render render.Render) {
	phase, err := ParsePhase(req.Phase)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}

	item := &QueueItem{
		NetID:     session.NetID,
		Phase:     phase,
		RepoURL:   req.RepoURL,
		TimeAdded: time.Now(),
	}
	if session.Staff {
		item.Admin = req.Admin
		if req.NetID != "" {
			item.NetID = req.NetID
		}
	}

	position, err := controller.Submit(item)
	switch err {
	case nil:
		render.JSON(http.StatusOK, map[string]int{"position": position})
	case errAlreadyQueued:
		loggedHTTPErrorf(w, http.StatusConflict, "you already have a submission in the queue at position %d", position)
	case errSubmissionsDisabled:
		loggedHTTPErrorf(w, http.StatusForbidden, "%v", err)
	default:
		loggedHTTPErrorf(w, http.StatusInternalServerError, "failed to queue submission: %v", err)
	}
}

func GetSubmissions(w http.ResponseWriter, session *CookieSession, store *storeSet, render render.Render) {
	subs, err := store.ForStudent(session.NetID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, subs)
}

func GetSubmissionLatest(w http.ResponseWriter, session *CookieSession, params martini.Params, store *storeSet, render render.Render) {
	phase, err := ParsePhase(params["phase"])
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	subs, err := store.ForPhase(session.NetID, phase)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if len(subs) == 0 {
		loggedHTTPErrorf(w, http.StatusNotFound, "no submissions for %s", phase)
		return
	}
	render.JSON(http.StatusOK, subs[0])
}

func GetStudentSubmissions(w http.ResponseWriter, params martini.Params, store *storeSet, render render.Render) {
	subs, err := store.ForStudent(params["net_id"])
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, subs)
}

func GetQueue(w http.ResponseWriter, store *storeSet, render render.Render) {
	items, err := store.All()
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, items)
}

type ApprovalRequest struct {
	Phase      string `json:"phase"`
	PenaltyPct int    `json:"penaltyPct"`
}

// PostApproval is the staff sign-off on withheld scores: every passing
// submission for the student and phase is approved with the given
// penalty, and the best score is pushed to the gradebook.
func PostApproval(w http.ResponseWriter, session *CookieSession, params martini.Params, req ApprovalRequest, store *storeSet, gradebook GradeBook, render render.Render) {
	phase, err := ParsePhase(req.Phase)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.PenaltyPct < 0 || req.PenaltyPct > 100 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "penalty must be between 0 and 100")
		return
	}

	approval := ScoreVerification{
		ApprovingNetID:    session.NetID,
		ApprovedTimestamp: time.Now(),
		PenaltyPct:        req.PenaltyPct,
	}
	updated, err := approveSubmissions(store, store, gradebook, params["net_id"], phase, approval)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "approval failed: %v", err)
		return
	}
	log.Printf("%s approved %s %s with a %d%% penalty (%d submissions)",
		session.NetID, params["net_id"], phase, req.PenaltyPct, len(updated))
	render.JSON(http.StatusOK, updated)
}

func GetConfig(w http.ResponseWriter, store *storeSet, render render.Render) {
	entries, err := store.Entries()
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, entries)
}

func PutConfig(w http.ResponseWriter, entry ConfigEntry, store *storeSet, render render.Render) {
	if entry.Key == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "config entry must have a key")
		return
	}
	if err := store.SetValue(entry.Key, entry.Value); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, &entry)
}

func GetRubricConfig(w http.ResponseWriter, params martini.Params, store *storeSet, render render.Render) {
	phase, err := ParsePhase(params["phase"])
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	config, err := store.RubricConfig(phase)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if config == nil {
		loggedHTTPErrorf(w, http.StatusNotFound, "no rubric configured for %s", phase)
		return
	}
	render.JSON(http.StatusOK, config)
}

func PutRubricConfig(w http.ResponseWriter, config RubricConfig, store *storeSet, render render.Render) {
	if err := store.SetRubricConfig(&config); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "bad rubric config: %v", err)
		return
	}
	render.JSON(http.StatusOK, &config)
}

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WatchQueueSocket streams grading progress and queue position changes
// to the student's browser for as long as the socket stays open.
func WatchQueueSocket(w http.ResponseWriter, r *http.Request, registry *observerRegistry, controller *trafficController) {
	session, err := GetSession(r)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: try logging in again")
		return
	}

	socket, err := socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed for %s: %v", session.NetID, err)
		return
	}

	registry.Add(session.NetID, socket)
	defer func() {
		registry.Remove(session.NetID, socket)
		socket.Close()
	}()

	if position := controller.position(session.NetID); position > 0 {
		socket.WriteJSON(&QueueEvent{Type: eventPosition, Position: position})
	}

	// discard client messages; closing the socket ends the watch
	for {
		if _, _, err := socket.ReadMessage(); err != nil {
			return
		}
	}
}
