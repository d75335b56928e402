package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	. "github.com/russross/autograder/types"
)

// canvasGradeBook talks to the Canvas REST API. Students are addressed
// by SIS ID so the grader never has to maintain its own mapping from
// netIDs to Canvas user IDs.
type canvasGradeBook struct {
	baseURL  string
	token    string
	courseID int
	client   *http.Client
}

func newCanvasGradeBook(baseURL, token string, courseID int) *canvasGradeBook {
	return &canvasGradeBook{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		courseID: courseID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type canvasAssignment struct {
	ID    int        `json:"id"`
	DueAt *time.Time `json:"due_at"`
}

type canvasOverride struct {
	DueAt      *time.Time `json:"due_at"`
	StudentIDs []int      `json:"student_ids"`
}

type canvasUser struct {
	ID int `json:"id"`
}

type canvasSubmission struct {
	Score *float64 `json:"score"`
}

// DueDate returns the assignment due date, preferring a per-student
// override (an individual extension) over the section-wide date.
func (c *canvasGradeBook) DueDate(assignmentNum int, netID string) (time.Time, error) {
	var assignment canvasAssignment
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d", c.courseID, assignmentNum)
	if err := c.get(path, nil, &assignment); err != nil {
		return time.Time{}, err
	}

	due := time.Time{}
	if assignment.DueAt != nil {
		due = *assignment.DueAt
	}

	var user canvasUser
	if err := c.get(fmt.Sprintf("/api/v1/courses/%d/users/sis_user_id:%s", c.courseID, url.PathEscape(netID)), nil, &user); err != nil {
		// An unknown SIS mapping is not fatal; the base date stands.
		log.Printf("canvas user lookup failed for %s: %v", netID, err)
		return due, nil
	}

	var overrides []canvasOverride
	if err := c.get(path+"/overrides", nil, &overrides); err != nil {
		return due, nil
	}
	for _, override := range overrides {
		for _, id := range override.StudentIDs {
			if id == user.ID && override.DueAt != nil {
				return *override.DueAt, nil
			}
		}
	}
	return due, nil
}

func (c *canvasGradeBook) CurrentScore(assignmentNum int, netID string) (float64, error) {
	var submission canvasSubmission
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions/sis_user_id:%s",
		c.courseID, assignmentNum, url.PathEscape(netID))
	if err := c.get(path, nil, &submission); err != nil {
		return 0, err
	}
	if submission.Score == nil {
		return 0, nil
	}
	return *submission.Score, nil
}

// SubmitGrade posts the score, comment, and rubric assessment. The
// first attempt is synchronous; a transient failure hands off to a
// background pusher so a flaky LMS does not fail the grading run.
func (c *canvasGradeBook) SubmitGrade(assignmentNum int, netID string, earned float64, rubric *Rubric, config *RubricConfig, notes string) error {
	form := url.Values{}
	form.Set("submission[posted_grade]", strconv.FormatFloat(earned, 'f', -1, 64))
	if notes != "" {
		form.Set("comment[text_comment]", notes)
	}
	if rubric != nil && config != nil {
		for category, item := range rubric.Items {
			configured := config.Items[category]
			if configured == nil || configured.GradeBookRubricID == "" || item.Results == nil {
				continue
			}
			key := fmt.Sprintf("rubric_assessment[%s][points]", configured.GradeBookRubricID)
			form.Set(key, strconv.FormatFloat(item.Results.Score, 'f', -1, 64))
		}
	}

	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions/sis_user_id:%s",
		c.courseID, assignmentNum, url.PathEscape(netID))
	err := c.put(path, form)
	if err == nil {
		return nil
	}

	log.Printf("grade push for %s failed, retrying in background: %v", netID, err)
	go c.pushWithRetries(path, form, netID)
	return nil
}

// pushWithRetries keeps trying for up to 10 attempts with exponential
// backoff capped at 5 minutes. After the last failure the grade is
// abandoned with a log entry; a resubmission will push it again.
func (c *canvasGradeBook) pushWithRetries(path string, form url.Values, netID string) {
	delay := 10 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		time.Sleep(delay)
		if err := c.put(path, form); err == nil {
			log.Printf("background grade push for %s succeeded on attempt %d", netID, attempt+1)
			return
		} else {
			log.Printf("background grade push for %s failed (attempt %d): %v", netID, attempt+1, err)
		}
		delay *= 2
		if delay > 5*time.Minute {
			delay = 5 * time.Minute
		}
	}
	log.Printf("giving up on grade push for %s after 10 attempts", netID)
}

func (c *canvasGradeBook) get(path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *canvasGradeBook) put(path string, form url.Values) error {
	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

func (c *canvasGradeBook) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("canvas request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("canvas response read failed: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("canvas returned %s for %s", resp.Status, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("canvas response decode failed: %v", err)
	}
	return nil
}
